package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/worklist"
)

var (
	// ErrOutOfMemory is returned by Allocate when no room can be found for an object, even after
	// a collection
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCollectionInProgress is returned when an operation that needs exclusive use of the
	// collector is requested while a collection is running, or while another such operation holds
	// the collector
	ErrCollectionInProgress = errors.New("collection in progress")
	// ErrWorklistOverflow is matched by the error returned when a collection is aborted because a
	// worklist filled up
	ErrWorklistOverflow = worklist.ErrOverflow
	// ErrNotAllocated is returned by Revoke and Reuse when the capability does not refer to a live
	// object
	ErrNotAllocated = errors.New("capability does not refer to a live object")
	// ErrDestroyed is returned by every operation on a collector after Destroy
	ErrDestroyed = errors.New("collector has been destroyed")
)
