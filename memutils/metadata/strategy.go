package metadata

// AllocationStrategy records how the allocator found room for an object
type AllocationStrategy uint32

const (
	// AllocationStrategySlab indicates that the object was placed in a slab already linked into its
	// size class list
	AllocationStrategySlab AllocationStrategy = 1 << iota
	// AllocationStrategyNewSlab indicates that a fresh slab was taken from the small table for the object
	AllocationStrategyNewSlab
	// AllocationStrategyBump indicates that the object was placed at the big table's bump pointer
	AllocationStrategyBump
	// AllocationStrategyScan indicates that the object was placed in a run of free slots found by
	// scanning the big table
	AllocationStrategyScan
	// AllocationStrategyAfterCollect is combined with one of the other strategies when room was only
	// found after a collection
	AllocationStrategyAfterCollect
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategySlab:         "Slab",
	AllocationStrategyNewSlab:      "NewSlab",
	AllocationStrategyBump:         "Bump",
	AllocationStrategyScan:         "Scan",
	AllocationStrategyAfterCollect: "AfterCollect",
}

func (s AllocationStrategy) String() string {
	str := ""
	for bit := AllocationStrategySlab; bit <= AllocationStrategyAfterCollect; bit <<= 1 {
		if s&bit == 0 {
			continue
		}
		if str != "" {
			str += "|"
		}
		str += allocationStrategyMapping[bit]
	}
	return str
}
