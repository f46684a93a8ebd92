package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/tagmem"
)

func (t *BlockTable) pageIndex(addr uint64) (int, error) {
	if addr < t.base.Base() || addr >= t.base.Top() {
		return 0, errors.Newf("address 0x%x is outside the table at %s", addr, t.base)
	}
	return int((addr - t.base.Base()) / tagmem.PageSize), nil
}

// PageTags returns the tag bitmap of the page containing addr, reading it from the address space
// and caching it if the cached copy is not valid
func (t *BlockTable) PageTags(addr uint64) (tagmem.Tags, error) {
	page, err := t.pageIndex(addr)
	if err != nil {
		return tagmem.Tags{}, err
	}
	if t.tagsValid[page] {
		return t.tags[page], nil
	}
	return t.RefreshPageTags(addr)
}

// RefreshPageTags rereads the tag bitmap of the page containing addr and caches it
func (t *BlockTable) RefreshPageTags(addr uint64) (tagmem.Tags, error) {
	page, err := t.pageIndex(addr)
	if err != nil {
		return tagmem.Tags{}, err
	}

	tags, err := t.space.PageTags(addr)
	if err != nil {
		return tagmem.Tags{}, err
	}
	t.tags[page] = tags
	t.tagsValid[page] = true
	return tags, nil
}

// CachedPageTags returns the cached tag bitmap of the page containing addr. The second return
// value is false if there is no valid cached bitmap.
func (t *BlockTable) CachedPageTags(addr uint64) (tagmem.Tags, bool) {
	page, err := t.pageIndex(addr)
	if err != nil || !t.tagsValid[page] {
		return tagmem.Tags{}, false
	}
	return t.tags[page], true
}

// ClearCachedTag clears the bit for the granule at addr in the cached bitmap of its page, if
// one is cached. It must be called whenever a tag in the pool is cleared while the cache is live.
func (t *BlockTable) ClearCachedTag(addr uint64) {
	page, err := t.pageIndex(addr)
	if err != nil || !t.tagsValid[page] {
		return
	}
	t.tags[page].Clear(int(addr%tagmem.PageSize) / tagmem.GranuleSize)
}

// InvalidateTags drops every cached tag bitmap
func (t *BlockTable) InvalidateTags() {
	clear(t.tagsValid)
}
