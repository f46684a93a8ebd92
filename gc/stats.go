package gc

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
)

// Stats holds the collector's counters. Marked, MarkedBytes, Swept, SweptBytes and Invalidated
// describe the most recent collection; every other counter covers the collector's lifetime.
type Stats struct {
	// Allocations is the number of live objects
	Allocations int
	// AllocationBytes is the number of bytes reserved for live objects, including rounding
	AllocationBytes int
	// ClassAllocations counts the small allocations made from each size class
	ClassAllocations [metadata.ClassCount]int
	// BigAllocations counts the allocations made from the big table
	BigAllocations int

	// Cycles is the number of collections started
	Cycles int
	// Aborted is the number of collections abandoned because a worklist overflowed
	Aborted int

	Marked      int
	MarkedBytes int
	Swept       int
	SweptBytes  int
	// Invalidated is the number of capabilities to free memory whose tag the collection cleared
	Invalidated int

	Revoked int
	Reused  int
	// Defects is the number of internal consistency failures detected
	Defects int
}

func (s *Stats) resetCycle() {
	s.Marked = 0
	s.MarkedBytes = 0
	s.Swept = 0
	s.SweptBytes = 0
	s.Invalidated = 0
}

func formatAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}

func formatBits(bits uint64) string {
	return fmt.Sprintf("0x%016x", bits)
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// CalculateStatistics sums the occupancy of both block tables
func (c *Collector) CalculateStatistics(stats *memutils.Statistics) {
	stats.Clear()
	for _, table := range c.tables() {
		table.AddStatistics(stats)
	}
}

// CalculateDetailedStatistics sums the occupancy of both block tables, including the distribution
// of object and free range sizes
func (c *Collector) CalculateDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	for class := range c.classes {
		c.classes[class].AddDetailedStatistics(stats)
	}
	if c.big != nil {
		c.big.AddDetailedStatistics(stats)
	}
}

// BuildStatsString returns a json document describing the collector's counters and tables. If
// detailedMap is true, the slabs of every size class are listed as well.
func (c *Collector) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()

	counters := obj.Name("Counters").Object()
	counters.Name("Cycles").Int(c.stats.Cycles)
	counters.Name("Aborted").Int(c.stats.Aborted)
	counters.Name("Allocations").Int(c.stats.Allocations)
	counters.Name("AllocationBytes").Int(c.stats.AllocationBytes)
	counters.Name("BigAllocations").Int(c.stats.BigAllocations)
	counters.Name("Marked").Int(c.stats.Marked)
	counters.Name("MarkedBytes").Int(c.stats.MarkedBytes)
	counters.Name("Swept").Int(c.stats.Swept)
	counters.Name("SweptBytes").Int(c.stats.SweptBytes)
	counters.Name("Invalidated").Int(c.stats.Invalidated)
	counters.Name("Revoked").Int(c.stats.Revoked)
	counters.Name("Reused").Int(c.stats.Reused)
	counters.Name("ReusePending").Int(c.ReusePending())
	counters.Name("Defects").Int(c.stats.Defects)
	counters.End()

	var total memutils.DetailedStatistics
	c.CalculateDetailedStatistics(&total)
	totalObj := obj.Name("Total").Object()
	printDetailedStatistics(&totalObj, &total)
	totalObj.End()

	if c.small != nil {
		smallObj := obj.Name("Small").Object()
		c.small.BlockJsonData(smallObj)
		smallObj.End()

		bigObj := obj.Name("Big").Object()
		c.big.BlockJsonData(bigObj)
		bigObj.End()
	}

	classes := obj.Name("Classes").Object()
	for class := metadata.LogMinSize; class < metadata.LogBigSize; class++ {
		list := &c.classes[class]
		classObj := classes.Name(fmt.Sprintf("%d", list.ObjectSize())).Object()
		classObj.Name("Allocations").Int(c.stats.ClassAllocations[class])
		classObj.Name("Slabs").Int(list.Len())
		if detailedMap {
			list.BuildStatsString(classObj.Name("SlabList"))
		}
		classObj.End()
	}
	classes.End()

	obj.End()

	return string(writer.Bytes())
}
