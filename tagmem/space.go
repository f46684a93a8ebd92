package tagmem

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/munraj/cherigc/capability"
)

const (
	// GranuleSize is the size in bytes of a stored capability, and the unit tracked by one tag bit
	GranuleSize = 32
	// PageSize is the unit of mapping, and the unit for which tag bitmaps are produced
	PageSize = 4096
	// GranulesPerPage is the number of tag bits in a page's Tags
	GranulesPerPage = PageSize / GranuleSize

	// Nothing is ever mapped below spaceStart, so that near-null addresses never resolve
	spaceStart uint64 = 0x10000000
)

// Space is a simulated tagged address space. Memory is mapped in page-aligned regions, each with
// a shadow tag bitmap. Storing a capability through StoreCap sets the tag of the granule it is
// stored in to the capability's tag; every other kind of store clears the tags of the granules it
// touches.
//
// Space is not safe for concurrent use.
type Space struct {
	next    uint64
	regions []*Region
	pages   *swiss.Map[uint64, *Region]
}

// NewSpace creates an empty address space
func NewSpace() *Space {
	return &Space{
		next:  spaceStart,
		pages: swiss.NewMap[uint64, *Region](64),
	}
}

// Map creates a new region of at least size bytes. The size is rounded up to a whole number of
// pages, and every new region is separated from the previous one by an unmapped guard page.
func (s *Space) Map(size int, prot Prot, kind Kind) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot map a region of %d bytes", size)
	}
	size = (size + PageSize - 1) &^ (PageSize - 1)

	data, err := mapBacking(size)
	if err != nil {
		return nil, err
	}

	r := &Region{
		start: s.next,
		data:  data,
		tags:  make([]uint64, size/GranuleSize/64),
		prot:  prot,
		kind:  kind,
	}
	s.next += uint64(size) + PageSize

	s.regions = append(s.regions, r)
	for page := r.start / PageSize; page < r.End()/PageSize; page++ {
		s.pages.Put(page, r)
	}

	return r, nil
}

// Unmap releases a region. Any capability still referencing it becomes dangling, and accesses
// through it fail with ErrUnmapped.
func (s *Space) Unmap(r *Region) error {
	idx := -1
	for i, other := range s.regions {
		if other == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Wrapf(ErrUnmapped, "region at 0x%x", r.start)
	}

	s.regions = append(s.regions[:idx], s.regions[idx+1:]...)
	for page := r.start / PageSize; page < r.End()/PageSize; page++ {
		s.pages.Delete(page)
	}

	err := unmapBacking(r.data)
	r.data = nil
	r.tags = nil
	return err
}

// Close unmaps every region in the space
func (s *Space) Close() error {
	var err error
	for len(s.regions) > 0 {
		err = errors.CombineErrors(err, s.Unmap(s.regions[len(s.regions)-1]))
	}
	return err
}

// Regions returns the currently mapped regions in address order
func (s *Space) Regions() []*Region {
	regions := make([]*Region, len(s.regions))
	copy(regions, s.regions)
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].start < regions[j].start
	})
	return regions
}

// Region returns the region containing addr
func (s *Space) Region(addr uint64) (*Region, bool) {
	return s.pages.Get(addr / PageSize)
}

func (s *Space) locate(addr, n uint64) (*Region, error) {
	r, ok := s.Region(addr)
	if !ok || !r.contains(addr, n) {
		return nil, errors.Wrapf(ErrUnmapped, "[0x%x, 0x%x)", addr, addr+n)
	}
	return r, nil
}

// Word reads the 8-byte little-endian word at addr
func (s *Space) Word(addr uint64) (uint64, error) {
	r, err := s.locate(addr, 8)
	if err != nil {
		return 0, err
	}
	off := addr - r.start
	return binary.LittleEndian.Uint64(r.data[off : off+8]), nil
}

// PutWord writes an 8-byte little-endian word at addr, clearing the tag of the granule it lands in
func (s *Space) PutWord(addr uint64, value uint64) error {
	r, err := s.locate(addr, 8)
	if err != nil {
		return err
	}
	off := addr - r.start
	binary.LittleEndian.PutUint64(r.data[off:off+8], value)
	r.clearTags(addr, 8)
	return nil
}

// Read copies n bytes starting at addr
func (s *Space) Read(addr uint64, n int) ([]byte, error) {
	r, err := s.locate(addr, uint64(n))
	if err != nil {
		return nil, err
	}
	off := addr - r.start
	out := make([]byte, n)
	copy(out, r.data[off:])
	return out, nil
}

// Write copies data to addr, clearing the tags of every granule it touches
func (s *Space) Write(addr uint64, data []byte) error {
	r, err := s.locate(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(r.data[addr-r.start:], data)
	r.clearTags(addr, uint64(len(data)))
	return nil
}

// Fill writes the 4-byte pattern repeatedly over [addr, addr+n), clearing every tag it touches
func (s *Space) Fill(addr uint64, n int, pattern uint32) error {
	r, err := s.locate(addr, uint64(n))
	if err != nil {
		return err
	}
	off := int(addr - r.start)
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], pattern)
	for i := 0; i < n; i++ {
		r.data[off+i] = word[i%4]
	}
	r.clearTags(addr, uint64(n))
	return nil
}

// LoadCap reads the capability stored in the granule at addr. The returned capability's tag is
// the granule's shadow tag.
func (s *Space) LoadCap(addr uint64) (capability.Capability, error) {
	if addr%GranuleSize != 0 {
		return capability.Capability{}, errors.Wrapf(ErrMisaligned, "load at 0x%x", addr)
	}
	r, err := s.locate(addr, GranuleSize)
	if err != nil {
		return capability.Capability{}, err
	}
	off := addr - r.start
	return capability.FromWords(
		binary.LittleEndian.Uint64(r.data[off:]),
		binary.LittleEndian.Uint64(r.data[off+8:]),
		binary.LittleEndian.Uint64(r.data[off+16:]),
		r.tagged(addr),
	), nil
}

// StoreCap writes c into the granule at addr and sets the granule's tag to c's tag
func (s *Space) StoreCap(addr uint64, c capability.Capability) error {
	if addr%GranuleSize != 0 {
		return errors.Wrapf(ErrMisaligned, "store at 0x%x", addr)
	}
	r, err := s.locate(addr, GranuleSize)
	if err != nil {
		return err
	}
	off := addr - r.start
	binary.LittleEndian.PutUint64(r.data[off:], c.Base())
	binary.LittleEndian.PutUint64(r.data[off+8:], c.Offset())
	binary.LittleEndian.PutUint64(r.data[off+16:], c.Length())
	binary.LittleEndian.PutUint64(r.data[off+24:], 0)
	r.setTag(addr, c.Tag())
	return nil
}

// TagAt returns the shadow tag of the granule containing addr
func (s *Space) TagAt(addr uint64) (bool, error) {
	r, err := s.locate(addr, 1)
	if err != nil {
		return false, err
	}
	return r.tagged(addr), nil
}

// ClearTag clears the shadow tag of the granule containing addr, leaving its data untouched
func (s *Space) ClearTag(addr uint64) error {
	r, err := s.locate(addr, 1)
	if err != nil {
		return err
	}
	r.setTag(addr, false)
	return nil
}

// PageTags reads the tag bitmap of the page containing addr
func (s *Space) PageTags(addr uint64) (Tags, error) {
	page := addr &^ (PageSize - 1)
	r, err := s.locate(page, PageSize)
	if err != nil {
		return Tags{}, err
	}
	word, _ := r.granule(page)
	return Tags{Lo: r.tags[word], Hi: r.tags[word+1]}, nil
}
