package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/tagmem"
)

// RootSet holds the capabilities the mutator keeps outside of collected memory. Every tagged
// capability in the set is a root of each collection.
//
// Entries are addressed by the handle returned from Add. Removing an entry leaves a hole that a
// later Add reuses, so handles stay stable for as long as their entry is present.
type RootSet struct {
	roots []capability.Capability
	holes []int
}

// Add appends c to the set and returns its handle
func (r *RootSet) Add(c capability.Capability) int {
	if len(r.holes) > 0 {
		h := r.holes[len(r.holes)-1]
		r.holes = r.holes[:len(r.holes)-1]
		r.roots[h] = c
		return h
	}
	r.roots = append(r.roots, c)
	return len(r.roots) - 1
}

// Set replaces the capability stored under handle h
func (r *RootSet) Set(h int, c capability.Capability) {
	r.roots[h] = c
}

// Get returns the capability stored under handle h. A removed entry reads as the null capability.
func (r *RootSet) Get(h int) capability.Capability {
	return r.roots[h]
}

// Remove drops the capability stored under handle h
func (r *RootSet) Remove(h int) {
	r.roots[h] = capability.Capability{}
	r.holes = append(r.holes, h)
}

// Len returns the number of handles, including removed ones
func (r *RootSet) Len() int {
	return len(r.roots)
}

// Reset drops every root
func (r *RootSet) Reset() {
	r.roots = r.roots[:0]
	r.holes = r.holes[:0]
}

// ErrStackOverflow is returned by Stack.Push when the stack region is full
var ErrStackOverflow = errors.New("stack overflow")

// Stack models the native stack of the mutator as a region of tagged memory that grows upward.
// Everything below the stack pointer is scanned conservatively by each collection; popped granules
// have their tags cleared so that stale capabilities do not keep objects alive.
type Stack struct {
	space  *tagmem.Space
	region *tagmem.Region
	sp     uint64
}

func newStack(space *tagmem.Space, region *tagmem.Region) *Stack {
	return &Stack{space: space, region: region, sp: region.Start()}
}

// Push stores c on top of the stack and returns the address it was stored at
func (s *Stack) Push(c capability.Capability) (uint64, error) {
	if s.sp+tagmem.GranuleSize > s.region.End() {
		return 0, errors.Wrapf(ErrStackOverflow, "depth %d", s.Depth())
	}
	addr := s.sp
	if err := s.space.StoreCap(addr, c); err != nil {
		return 0, err
	}
	s.sp += tagmem.GranuleSize
	return addr, nil
}

// PushWord stores a plain integer on top of the stack. The granule it occupies is untagged.
func (s *Stack) PushWord(v uint64) (uint64, error) {
	if s.sp+tagmem.GranuleSize > s.region.End() {
		return 0, errors.Wrapf(ErrStackOverflow, "depth %d", s.Depth())
	}
	addr := s.sp
	if err := s.space.Fill(addr, tagmem.GranuleSize, 0); err != nil {
		return 0, err
	}
	if err := s.space.PutWord(addr, v); err != nil {
		return 0, err
	}
	s.sp += tagmem.GranuleSize
	return addr, nil
}

// Pop removes the top granule of the stack and returns the capability it held
func (s *Stack) Pop() (capability.Capability, error) {
	if s.sp == s.region.Start() {
		return capability.Capability{}, errors.New("pop from an empty stack")
	}
	s.sp -= tagmem.GranuleSize
	c, err := s.space.LoadCap(s.sp)
	if err != nil {
		return capability.Capability{}, err
	}
	return c, s.space.ClearTag(s.sp)
}

// Depth returns the number of granules on the stack
func (s *Stack) Depth() int {
	return int(s.sp-s.region.Start()) / tagmem.GranuleSize
}

// Live returns a capability spanning the occupied part of the stack
func (s *Stack) Live() capability.Capability {
	return capability.New(s.region.Start(), s.sp-s.region.Start())
}

// Region returns the memory backing the stack
func (s *Stack) Region() *tagmem.Region {
	return s.region
}
