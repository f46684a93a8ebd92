package vm

//go:generate mockgen -source source.go -destination mocks/source.go -package mock_vm

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/tagmem"
)

var (
	// ErrTooSmall is returned by a Source when the destination cannot hold every mapping
	ErrTooSmall = errors.New("mapping table is too small")
	// ErrSource marks every other failure to read the mappings
	ErrSource = errors.New("could not read mappings")
)

// Source reports the memory mappings of the process
type Source interface {
	// Update fills dst with the current mappings in address order and returns how many entries it
	// wrote. It must return ErrTooSmall if dst cannot hold every mapping. The Table field of the
	// written entries is ignored.
	Update(dst []Entry) (int, error)
}

// SpaceSource is a Source reporting the regions of a tagmem.Space
type SpaceSource struct {
	space *tagmem.Space
}

var _ Source = &SpaceSource{}

func NewSpaceSource(space *tagmem.Space) *SpaceSource {
	return &SpaceSource{space: space}
}

func (s *SpaceSource) Update(dst []Entry) (int, error) {
	regions := s.space.Regions()
	if len(regions) > len(dst) {
		return 0, errors.Wrapf(ErrTooSmall, "%d mappings, room for %d", len(regions), len(dst))
	}

	for i, r := range regions {
		dst[i] = Entry{
			Start: r.Start(),
			End:   r.End(),
			Prot:  r.Prot(),
			Kind:  r.Kind(),
		}
		if r.Kind() == tagmem.KindPool || r.Kind() == tagmem.KindInternal {
			dst[i].GCType = GCTypeManaged
		}
	}
	return len(regions), nil
}
