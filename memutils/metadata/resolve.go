package metadata

import "github.com/munraj/cherigc/capability"

// Resolve determines what the base of ptr refers to within the table. Pointers outside the pool,
// and continuation slots with no governing head, resolve to StatusUnmanaged. Pointers into a free
// slot, a free object or the header area of a slab resolve to StatusFree. Anything else resolves
// to StatusUsed along with a capability for the governing allocation, so that an interior pointer
// resolves to the same object as the allocation's original capability.
func (t *BlockTable) Resolve(ptr capability.Capability) Resolution {
	res := Resolution{Status: StatusUnmanaged}

	addr := ptr.Base()
	idx, ok := t.SlotIndex(addr)
	if !ok {
		return res
	}

	for t.Code(idx) == SlotContinuation {
		idx--
		if idx < 0 {
			return res
		}
	}

	res.Table = t
	res.SlotIndex = idx

	code := t.Code(idx)
	if code == SlotFree {
		res.Status = StatusFree
		return res
	}

	if !t.Small() {
		n := t.ObjectSlots(idx)
		res.Status = StatusUsed
		if code == SlotMarked {
			res.Status |= StatusMarked
		}
		if t.Revoked(idx) {
			res.Status |= StatusRevoked
		}
		res.Object = t.SlotCapability(idx, n)
		return res
	}

	blk := t.Block(idx)
	objectSize := blk.ObjectSize()
	blockIndex := int(addr-blk.Addr()) / objectSize
	bit := uint64(1) << blockIndex

	res.Block = blk
	res.BlockIndex = blockIndex

	if blockIndex < blk.HeaderBits() || blk.Free()&bit != 0 {
		res.Status = StatusFree
		return res
	}

	res.Status = StatusUsed
	if blk.Marks()&bit != 0 {
		res.Status |= StatusMarked
	}
	if blk.Revoked()&bit != 0 {
		res.Status |= StatusRevoked
	}
	res.Object = t.base.Narrow(blk.ObjectAddr(blockIndex)-t.base.Base(), uint64(objectSize))
	return res
}

// Mark sets the mark of the object res describes. It returns false if the object was already
// marked. res must have been produced by Resolve on this table with StatusUsed.
func (t *BlockTable) Mark(res Resolution) bool {
	if res.Status.Marked() {
		return false
	}

	if t.Small() {
		bit := uint64(1) << res.BlockIndex
		marks := res.Block.Marks()
		if marks&bit != 0 {
			return false
		}
		res.Block.SetMarks(marks | bit)
		return true
	}

	if t.Code(res.SlotIndex) == SlotMarked {
		return false
	}
	t.SetCode(res.SlotIndex, SlotMarked)
	return true
}

// Release returns the object res describes to the pool: the object's bit becomes free in its slab,
// or its slots become SlotFree in a big table. Its revoked and mark state is cleared. The caller is
// responsible for filling the memory and for unlinking slabs that become empty.
func (t *BlockTable) Release(res Resolution) {
	if t.Small() {
		bit := uint64(1) << res.BlockIndex
		blk := res.Block
		blk.SetMarks(blk.Marks() &^ bit)
		blk.SetRevoked(blk.Revoked() &^ bit)
		blk.SetFree(blk.Free() | bit)
		return
	}

	n := t.ObjectSlots(res.SlotIndex)
	t.SetRange(res.SlotIndex, res.SlotIndex+n, SlotFree)
	t.SetRevoked(res.SlotIndex, false)
}

// Revoke sets the revoked flag of the object res describes
func (t *BlockTable) Revoke(res Resolution) {
	if t.Small() {
		res.Block.SetRevoked(res.Block.Revoked() | uint64(1)<<res.BlockIndex)
		return
	}
	t.SetRevoked(res.SlotIndex, true)
}
