package console

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	"github.com/olekukonko/tablewriter"
)

type command struct {
	names          []string
	desc           string
	needsCollector bool
	fn             func(c *Console, args []string) (bool, error)
}

var commands []command

func init() {
	commands = []command{
		{names: []string{"cont", "c", ""}, desc: "Continue running", fn: (*Console).cmdCont},
		{names: []string{"gc"}, desc: "Force a full collection", needsCollector: true, fn: (*Console).cmdGC},
		{names: []string{"help", "h"}, desc: "Display help", fn: (*Console).cmdHelp},
		{names: []string{"info", "i"}, desc: "Display information for page/object", needsCollector: true, fn: (*Console).cmdInfo},
		{names: []string{"map", "m"}, desc: "Display block table map", needsCollector: true, fn: (*Console).cmdMap},
		{names: []string{"next", "n"}, desc: "Step to the next collector log line", fn: (*Console).cmdNext},
		{names: []string{"quit", "q"}, desc: "Quit", fn: (*Console).cmdQuit},
		{names: []string{"revoke"}, desc: "Revoke access to an object", needsCollector: true, fn: (*Console).cmdRevoke},
		{names: []string{"stat", "s"}, desc: "Display statistics", needsCollector: true, fn: (*Console).cmdStat},
		{names: []string{"uptags", "ut"}, desc: "Update tags for page/object", needsCollector: true, fn: (*Console).cmdUptags},
		{names: []string{"vm"}, desc: "Display VM mapping information", needsCollector: true, fn: (*Console).cmdVM},
	}
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		for _, n := range cmd.names {
			if n == name {
				return cmd, true
			}
		}
	}
	return command{}, false
}

func parseAddr(name string, args []string) (uint64, error) {
	if len(args) < 2 {
		return 0, errors.Newf("%s: <addr>", name)
	}
	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid address %q", name, args[1])
	}
	return addr, nil
}

// granuleCapability returns a zero-length capability to the granule holding addr
func granuleCapability(addr uint64) capability.Capability {
	return capability.New(memutils.AlignDown(addr, uint64(tagmem.GranuleSize)), 0)
}

func formatTags(tags tagmem.Tags, valid bool) string {
	return fmt.Sprintf("hi=0x%x, lo=0x%x, v=%t", tags.Hi, tags.Lo, valid)
}

func (c *Console) newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	return table
}

func (c *Console) cmdCont(args []string) (bool, error) {
	return true, nil
}

func (c *Console) cmdNext(args []string) (bool, error) {
	c.stepping.Store(true)
	return true, nil
}

func (c *Console) cmdQuit(args []string) (bool, error) {
	return true, ErrQuit
}

func (c *Console) cmdHelp(args []string) (bool, error) {
	for _, cmd := range commands {
		for _, name := range cmd.names {
			fmt.Fprintf(c.out, "%s ", name)
		}
		fmt.Fprintf(c.out, "- %s\n", cmd.desc)
	}
	return false, nil
}

func (c *Console) cmdGC(args []string) (bool, error) {
	err := c.collector.Collect()
	if errors.Is(err, gc.ErrCollectionInProgress) {
		fmt.Fprintln(c.out, "Refusing to run nested collection.")
		return false, nil
	} else if err != nil {
		return false, err
	}

	stats := c.collector.Stats()
	fmt.Fprintf(c.out, "Collection %d: marked %d (%s), swept %d (%s), invalidated %d\n",
		stats.Cycles,
		stats.Marked, bytesize.New(float64(stats.MarkedBytes)),
		stats.Swept, bytesize.New(float64(stats.SweptBytes)),
		stats.Invalidated)
	return false, nil
}

func (c *Console) cmdInfo(args []string) (bool, error) {
	addr, err := parseAddr("info", args)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(c.out, "Retrieving information for address 0x%x\n", addr)

	raw := granuleCapability(addr)
	res := c.collector.Resolve(raw)
	if res.Status.Unmanaged() {
		fmt.Fprintln(c.out, "Object is unmanaged.")
		entry, ok := c.collector.VMTable().Find(raw.Base())
		if !ok {
			fmt.Fprintln(c.out, "No VM table entry.")
			return false, nil
		}
		fmt.Fprintf(c.out, "Found VM entry: %s\n", entry)
		if entry.Table == nil {
			fmt.Fprintln(c.out, "VM entry has no block table.")
			return false, nil
		}
		res = entry.Table.Resolve(raw)
		if res.Status.Unmanaged() {
			fmt.Fprintln(c.out, "No index found in VM block table.")
			return false, nil
		}
	}

	switch {
	case res.Status.Revoked():
		fmt.Fprintln(c.out, "Object is revoked.")
	case res.Status.Marked():
		fmt.Fprintln(c.out, "Object is allocated and marked.")
	case res.Status.Used():
		fmt.Fprintln(c.out, "Object is allocated.")
	case res.Status.Free():
		fmt.Fprintln(c.out, "Object is not allocated.")
	default:
		fmt.Fprintln(c.out, "Unknown object type.")
	}

	bt := res.Table
	fmt.Fprintf(c.out, "Returned object: %s\n", res.Object)
	fmt.Fprintf(c.out, "Block table: base: %s, slot size %d, index: %d\n", bt.Base(), bt.SlotSize(), res.SlotIndex)
	tags, valid := bt.CachedPageTags(raw.Base())
	fmt.Fprintf(c.out, "Stored tags: %s\n", formatTags(tags, valid))

	if bt.Small() {
		blk := res.Block
		fmt.Fprintf(c.out, "Block: 0x%x, index: %d\n", blk.Addr(), res.BlockIndex)
		if res.BlockIndex < blk.HeaderBits() {
			fmt.Fprintf(c.out, "Block header information:\n"+
				"  Object size: %d bytes\n"+
				"  Mark bits: 0x%x\n"+
				"  Free bits: 0x%x\n"+
				"  Revoked bits: 0x%x\n",
				blk.ObjectSize(), blk.Marks(), blk.Free(), blk.Revoked())
		}
	}
	return false, nil
}

func (c *Console) cmdUptags(args []string) (bool, error) {
	addr, err := parseAddr("uptags", args)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(c.out, "Updating tags for address 0x%x\n", addr)

	raw := granuleCapability(addr)
	res := c.collector.Resolve(raw)
	if res.Status.Unmanaged() {
		return false, errors.New("object is unmanaged")
	} else if res.Status.Revoked() {
		c.printWarning("Warning: object is revoked.")
	} else if res.Status.Free() {
		return false, errors.New("object is not allocated")
	}

	bt := res.Table
	fmt.Fprintf(c.out, "Returned object: %s\n", res.Object)
	fmt.Fprintf(c.out, "Block table: base: %s, index: %d\n", bt.Base(), res.SlotIndex)
	tags, valid := bt.CachedPageTags(raw.Base())
	fmt.Fprintf(c.out, "Old tags: %s\n", formatTags(tags, valid))
	fmt.Fprintln(c.out, "Updating...")
	tags, err = bt.RefreshPageTags(raw.Base())
	if err != nil {
		return false, err
	}
	fmt.Fprintf(c.out, "New tags: %s\n", formatTags(tags, true))
	return false, nil
}

func (c *Console) cmdMap(args []string) (bool, error) {
	var bt *metadata.BlockTable
	if len(args) > 1 {
		switch args[1] {
		case "b":
			bt = c.collector.BigTable()
		case "s":
			bt = c.collector.SmallTable()
		}
	}
	if bt == nil {
		return false, errors.New("map: b (big) or s (small)")
	}

	var table *tablewriter.Table
	if bt.Small() {
		table = c.newTable("Slot", "Address", "Type", "ObjectSize", "Free", "Marks", "Revoked")
	} else {
		table = c.newTable("Slot", "Address", "Type", "Revoked")
	}

	for i := 0; i < bt.SlotCount(); i++ {
		code := bt.Code(i)
		if code == metadata.SlotFree {
			continue
		}
		row := []string{strconv.Itoa(i), fmt.Sprintf("0x%x", bt.SlotAddr(i)), code.String()}
		if bt.Small() {
			blk := bt.Block(i)
			row = append(row,
				strconv.Itoa(blk.ObjectSize()),
				fmt.Sprintf("0x%016x", blk.Free()),
				fmt.Sprintf("0x%016x", blk.Marks()),
				fmt.Sprintf("0x%016x", blk.Revoked()),
			)
		} else {
			row = append(row, strconv.FormatBool(bt.Revoked(i)))
		}
		table.Append(row)
	}
	table.Render()
	return false, nil
}

func (c *Console) cmdRevoke(args []string) (bool, error) {
	addr, err := parseAddr("revoke", args)
	if err != nil {
		return false, err
	}

	ptr := granuleCapability(addr)
	fmt.Fprintf(c.out, "Attempting to revoke %s\n", ptr)
	if err := c.collector.Revoke(ptr); err != nil {
		return false, errors.Wrap(err, "revoke")
	}
	fmt.Fprintln(c.out, "Revoked.")
	return false, nil
}

func (c *Console) cmdStat(args []string) (bool, error) {
	if len(args) > 1 && args[1] == "json" {
		fmt.Fprintln(c.out, c.collector.BuildStatsString(true))
		return false, nil
	}

	stats := c.collector.Stats()
	fmt.Fprintf(c.out, "phase = %s\n", c.collector.Phase())

	counters := c.newTable("Counter", "Value")
	counters.AppendBulk([][]string{
		{"cycles", strconv.Itoa(stats.Cycles)},
		{"aborted", strconv.Itoa(stats.Aborted)},
		{"allocations", strconv.Itoa(stats.Allocations)},
		{"allocation bytes", bytesize.New(float64(stats.AllocationBytes)).String()},
		{"marked", strconv.Itoa(stats.Marked)},
		{"swept", strconv.Itoa(stats.Swept)},
		{"invalidated", strconv.Itoa(stats.Invalidated)},
		{"revoked", strconv.Itoa(stats.Revoked)},
		{"reused", strconv.Itoa(stats.Reused)},
		{"reuse pending", strconv.Itoa(c.collector.ReusePending())},
		{"defects", strconv.Itoa(stats.Defects)},
	})
	counters.Render()

	for class := metadata.LogMinSize; class < metadata.LogBigSize; class++ {
		fmt.Fprintf(c.out, "ntalloc %d = %d\n", 1<<class, stats.ClassAllocations[class])
	}
	fmt.Fprintf(c.out, "ntbigalloc = %d\n", stats.BigAllocations)

	var usage memutils.Statistics
	c.collector.CalculateStatistics(&usage)
	fmt.Fprintf(c.out, "blocks = %d (%s), objects = %d (%s)\n",
		usage.BlockCount, bytesize.New(float64(usage.BlockBytes)),
		usage.AllocationCount, bytesize.New(float64(usage.AllocationBytes)))
	return false, nil
}

func (c *Console) cmdVM(args []string) (bool, error) {
	vt := c.collector.VMTable()
	fmt.Fprintf(c.out, "VM table: %d/%d entries\n", vt.Len(), vt.Cap())

	table := c.newTable("Start", "End", "Size", "Prot", "Kind", "Managed", "Tracked")
	for _, e := range vt.Entries() {
		table.Append([]string{
			fmt.Sprintf("0x%x", e.Start),
			fmt.Sprintf("0x%x", e.End),
			bytesize.New(float64(e.Len())).String(),
			e.Prot.String(),
			e.Kind.String(),
			strconv.FormatBool(e.GCType&vm.GCTypeManaged != 0),
			strconv.FormatBool(e.Table != nil),
		})
	}
	table.Render()
	return false, nil
}
