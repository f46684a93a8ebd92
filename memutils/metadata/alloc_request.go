package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/memutils"
)

// AllocationRequestType is an enum that indicates which table an allocation is routed to.
// It is returned in AllocationRequest from NewAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestSmall indicates that the allocation is made from a slab of the small table
	AllocationRequestSmall AllocationRequestType = iota
	// AllocationRequestBig indicates that the allocation is made from a run of slots in the big table
	AllocationRequestBig
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestSmall: "Small",
	AllocationRequestBig:   "Big",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest describes where and how an allocation will be made. It is created from the
// requested size with NewAllocationRequest, and the allocator fills in SlotIndex, BlockIndex and
// Strategy once it has found room for the object.
type AllocationRequest struct {
	// Size is the requested size in bytes, raised to MinSize if it was smaller
	Size int
	// RoundedSize is the number of bytes actually reserved for the object: the object size of the
	// size class for small requests, or a whole number of slots for big ones
	RoundedSize int
	// Type identifies the table the request is routed to
	Type AllocationRequestType
	// Class is the base-2 logarithm of the size class. It is only meaningful for small requests.
	Class int
	// SlotCount is the number of big table slots the object occupies. It is only meaningful for big
	// requests.
	SlotCount int

	// Strategy records how the allocator found room for the object
	Strategy AllocationStrategy
	// SlotIndex is the slot the object was placed in: its slab, or the head of its run
	SlotIndex int
	// BlockIndex is the index of the object inside its slab. It is only meaningful for small requests.
	BlockIndex int
}

// NewAllocationRequest routes a request for size bytes. Sizes below MinSize are raised to MinSize.
// If the power-of-two rounding of the size is at least BigSize the request is big; otherwise it is
// small, and its class is the base-2 logarithm of the rounded size.
func NewAllocationRequest(size int) (AllocationRequest, error) {
	if size <= 0 {
		return AllocationRequest{}, errors.Newf("cannot allocate %d bytes", size)
	}
	if size < MinSize {
		size = MinSize
	}

	rounded := memutils.RoundPow2(uint64(size))
	if rounded >= BigSize {
		slots := memutils.DivRoundUp(size, BigSize)
		return AllocationRequest{
			Size:        size,
			RoundedSize: slots * BigSize,
			Type:        AllocationRequestBig,
			SlotCount:   slots,
		}, nil
	}

	return AllocationRequest{
		Size:        size,
		RoundedSize: int(rounded),
		Type:        AllocationRequestSmall,
		Class:       memutils.Log2(rounded),
	}, nil
}
