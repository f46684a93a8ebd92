package tagmem

import "math/bits"

// Tags is a per-page tag bitmap. Bit i of Lo records whether granule i of the page holds a valid
// capability, and bit i of Hi does the same for granule 64+i.
type Tags struct {
	Lo uint64
	Hi uint64
}

// RangeMask returns a bitmap with the bits for granules [from, to) set. Both arguments are
// clamped to the page.
func RangeMask(from, to int) Tags {
	if from < 0 {
		from = 0
	}
	if to > GranulesPerPage {
		to = GranulesPerPage
	}
	if from >= to {
		return Tags{}
	}

	return Tags{
		Lo: halfMask(from, to),
		Hi: halfMask(from-64, to-64),
	}
}

func halfMask(from, to int) uint64 {
	if from < 0 {
		from = 0
	}
	if to > 64 {
		to = 64
	}
	if from >= to {
		return 0
	}

	var upper uint64 = ^uint64(0)
	if to < 64 {
		upper = (uint64(1) << to) - 1
	}
	return upper &^ ((uint64(1) << from) - 1)
}

// And returns the intersection of two bitmaps
func (t Tags) And(other Tags) Tags {
	return Tags{Lo: t.Lo & other.Lo, Hi: t.Hi & other.Hi}
}

// Empty returns true if no granule is tagged
func (t Tags) Empty() bool {
	return t.Lo == 0 && t.Hi == 0
}

// Count returns the number of tagged granules
func (t Tags) Count() int {
	return bits.OnesCount64(t.Lo) + bits.OnesCount64(t.Hi)
}

// Test returns true if granule i is tagged
func (t Tags) Test(i int) bool {
	if i < 64 {
		return t.Lo&(uint64(1)<<i) != 0
	}
	return t.Hi&(uint64(1)<<(i-64)) != 0
}

// Set marks granule i as tagged
func (t *Tags) Set(i int) {
	if i < 64 {
		t.Lo |= uint64(1) << i
	} else {
		t.Hi |= uint64(1) << (i - 64)
	}
}

// Clear marks granule i as untagged
func (t *Tags) Clear(i int) {
	if i < 64 {
		t.Lo &^= uint64(1) << i
	} else {
		t.Hi &^= uint64(1) << (i - 64)
	}
}

// Next returns the index of the first tagged granule at or after i, or -1 if there is none
func (t Tags) Next(i int) int {
	if i < 64 {
		lo := t.Lo >> i
		if lo != 0 {
			return i + bits.TrailingZeros64(lo)
		}
		i = 64
	}
	if i >= GranulesPerPage {
		return -1
	}
	hi := t.Hi >> (i - 64)
	if hi != 0 {
		return i + bits.TrailingZeros64(hi)
	}
	return -1
}
