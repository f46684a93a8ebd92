package tagmem

import (
	"strings"

	"github.com/munraj/cherigc/capability"
)

// Prot is a set of access permissions for a Region
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// ProtReadWrite is the usual protection for data regions
const ProtReadWrite = ProtRead | ProtWrite

func (p Prot) String() string {
	var sb strings.Builder
	for _, bit := range []struct {
		prot Prot
		c    byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&bit.prot != 0 {
			sb.WriteByte(bit.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Kind describes what a Region is used for
type Kind uint32

const (
	// KindAnonymous is ordinary mutator memory that no collector pool owns
	KindAnonymous Kind = iota
	// KindPool is memory backing one of the collector's block tables
	KindPool
	// KindStack is memory used as a native call stack
	KindStack
	// KindInternal is memory used for collector bookkeeping that must never be scanned
	KindInternal
)

var kindMapping = map[Kind]string{
	KindAnonymous: "anon",
	KindPool:      "pool",
	KindStack:     "stack",
	KindInternal:  "internal",
}

func (k Kind) String() string {
	return kindMapping[k]
}

// Region is a contiguous, page-aligned mapping inside a Space. Each region carries a shadow tag
// bitmap with one bit per GranuleSize bytes of data.
type Region struct {
	start uint64
	data  []byte
	tags  []uint64
	prot  Prot
	kind  Kind
}

// Start returns the first address of the region
func (r *Region) Start() uint64 { return r.start }

// End returns the first address past the end of the region
func (r *Region) End() uint64 { return r.start + uint64(len(r.data)) }

// Len returns the size of the region in bytes
func (r *Region) Len() uint64 { return uint64(len(r.data)) }

func (r *Region) Prot() Prot { return r.prot }

// SetProt changes the protection of the region. Protection only affects checked accesses made
// through Space.Load and friends, and the scanning decisions of the collector.
func (r *Region) SetProt(prot Prot) { r.prot = prot }

func (r *Region) Kind() Kind { return r.kind }

// Capability returns a tagged capability spanning the whole region
func (r *Region) Capability() capability.Capability {
	return capability.New(r.start, r.Len())
}

func (r *Region) contains(addr, n uint64) bool {
	return addr >= r.start && addr <= r.End() && n <= r.End()-addr
}

func (r *Region) granule(addr uint64) (int, uint64) {
	g := (addr - r.start) / GranuleSize
	return int(g / 64), uint64(1) << (g % 64)
}

func (r *Region) tagged(addr uint64) bool {
	word, bit := r.granule(addr)
	return r.tags[word]&bit != 0
}

func (r *Region) setTag(addr uint64, tag bool) {
	word, bit := r.granule(addr)
	if tag {
		r.tags[word] |= bit
	} else {
		r.tags[word] &^= bit
	}
}

// clearTags clears the tag of every granule overlapping [addr, addr+n)
func (r *Region) clearTags(addr, n uint64) {
	if n == 0 {
		return
	}
	first := (addr - r.start) / GranuleSize
	last := (addr + n - 1 - r.start) / GranuleSize
	for g := first; g <= last; g++ {
		r.tags[g/64] &^= uint64(1) << (g % 64)
	}
}
