package tagmem

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
)

// check validates an access of n bytes at offset off from c's cursor and returns its address
func (s *Space) check(c capability.Capability, off, n uint64, prot Prot) (uint64, error) {
	if !c.Tag() {
		return 0, errors.Wrapf(ErrTagViolation, "access through %s", c)
	}
	if !c.SetOffset(c.Offset()+off).InBounds(n) {
		return 0, errors.Wrapf(ErrBoundsViolation, "%d bytes at offset %d of %s", n, off, c)
	}

	addr := c.Address() + off
	r, err := s.locate(addr, n)
	if err != nil {
		return 0, err
	}
	if r.prot&prot != prot {
		return 0, errors.Wrapf(ErrProtectionViolation, "%s access to %s region at 0x%x", prot, r.prot, addr)
	}
	return addr, nil
}

// Load reads a capability through c, at offset off from c's cursor
func (s *Space) Load(c capability.Capability, off uint64) (capability.Capability, error) {
	addr, err := s.check(c, off, GranuleSize, ProtRead)
	if err != nil {
		return capability.Capability{}, err
	}
	return s.LoadCap(addr)
}

// Store writes the capability v through c, at offset off from c's cursor. This is the write
// barrier: the destination granule's tag is set to v's tag.
func (s *Space) Store(c capability.Capability, off uint64, v capability.Capability) error {
	addr, err := s.check(c, off, GranuleSize, ProtWrite)
	if err != nil {
		return err
	}
	return s.StoreCap(addr, v)
}

// LoadWord reads an 8-byte word through c, at offset off from c's cursor
func (s *Space) LoadWord(c capability.Capability, off uint64) (uint64, error) {
	addr, err := s.check(c, off, 8, ProtRead)
	if err != nil {
		return 0, err
	}
	return s.Word(addr)
}

// StoreWord writes an 8-byte word through c, at offset off from c's cursor. Any capability
// previously stored in the granule loses its tag.
func (s *Space) StoreWord(c capability.Capability, off uint64, v uint64) error {
	addr, err := s.check(c, off, 8, ProtWrite)
	if err != nil {
		return err
	}
	return s.PutWord(addr, v)
}
