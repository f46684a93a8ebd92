package sandbox

//go:generate mockgen -source sandbox.go -destination mocks/target.go -package mock_sandbox

import (
	"io"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"golang.org/x/exp/slog"
)

// Rights is a set of methods an Object may forward to its Target. The value of each right is also
// the method number used to call it through Enter.
type Rights uint32

const (
	RightAllocate Rights = 1 << iota
	RightRevoke
	RightReuse

	RightsAll = RightAllocate | RightRevoke | RightReuse
)

var rightsMapping = []struct {
	right Rights
	name  string
}{
	{RightAllocate, "Allocate"},
	{RightRevoke, "Revoke"},
	{RightReuse, "Reuse"},
}

func (r Rights) String() string {
	var names []string
	for _, m := range rightsMapping {
		if r&m.right != 0 {
			names = append(names, m.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

var (
	// ErrPermissionDenied is returned when an Object is asked to forward a method it holds no
	// right for
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownMethod is returned by Enter for a method number that names no single method
	ErrUnknownMethod = errors.New("unknown method")
	// ErrDestroyed is returned by every call on an Object after Destroy
	ErrDestroyed = errors.New("sandbox object has been destroyed")
)

// Target receives the calls an Object forwards. *gc.Collector implements it.
type Target interface {
	Allocate(size int) (capability.Capability, error)
	Revoke(ptr capability.Capability) error
	Reuse(ptr capability.Capability) error
}

// Object exposes a Target's allocation entry points to untrusted code. Each entry point is guarded
// by a right; rights can be withdrawn at any time, one at a time or all at once, and a withdrawn
// right makes later calls to its method fail without affecting the others.
//
// Object is safe for concurrent use.
type Object struct {
	logger *slog.Logger
	target atomic.Pointer[Target]
	rights atomic.Uint32
}

// New creates an object forwarding to target with the given rights
func New(logger *slog.Logger, target Target, rights Rights) *Object {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := &Object{logger: logger}
	o.target.Store(&target)
	o.rights.Store(uint32(rights))
	return o
}

// Rights returns the rights the object currently holds
func (o *Object) Rights() Rights {
	return Rights(o.rights.Load())
}

// SetRights replaces the object's rights
func (o *Object) SetRights(rights Rights) {
	o.rights.Store(uint32(rights))
	o.logger.Debug("sandbox rights set", slog.String("rights", rights.String()))
}

// RevokeRights withdraws the given rights and leaves the rest untouched
func (o *Object) RevokeRights(rights Rights) {
	for {
		old := o.rights.Load()
		if o.rights.CompareAndSwap(old, old&^uint32(rights)) {
			break
		}
	}
	o.logger.Debug("sandbox rights revoked", slog.String("rights", rights.String()))
}

// RevokeAll withdraws every right
func (o *Object) RevokeAll() {
	o.SetRights(0)
}

// Destroy detaches the object from its target. Every later call fails with ErrDestroyed.
func (o *Object) Destroy() {
	o.target.Store(nil)
	o.rights.Store(0)
}

func (o *Object) check(right Rights) (Target, error) {
	target := o.target.Load()
	if target == nil {
		return nil, ErrDestroyed
	}
	if o.Rights()&right == 0 {
		return nil, errors.Wrapf(ErrPermissionDenied, "%s", right)
	}
	return *target, nil
}

// Allocate forwards to the target's Allocate if the object holds RightAllocate
func (o *Object) Allocate(size int) (capability.Capability, error) {
	target, err := o.check(RightAllocate)
	if err != nil {
		return capability.Capability{}, err
	}
	return target.Allocate(size)
}

// Revoke forwards to the target's Revoke if the object holds RightRevoke
func (o *Object) Revoke(ptr capability.Capability) error {
	target, err := o.check(RightRevoke)
	if err != nil {
		return err
	}
	return target.Revoke(ptr)
}

// Reuse forwards to the target's Reuse if the object holds RightReuse
func (o *Object) Reuse(ptr capability.Capability) error {
	target, err := o.check(RightReuse)
	if err != nil {
		return err
	}
	return target.Reuse(ptr)
}

// Enter dispatches a call by method number. size is only used by RightAllocate, and ptr only by
// RightRevoke and RightReuse. Allocate's result is returned; the other methods return the null
// capability.
func (o *Object) Enter(method Rights, size int, ptr capability.Capability) (capability.Capability, error) {
	switch method {
	case RightAllocate:
		return o.Allocate(size)
	case RightRevoke:
		return capability.Capability{}, o.Revoke(ptr)
	case RightReuse:
		return capability.Capability{}, o.Reuse(ptr)
	}
	return capability.Capability{}, errors.Wrapf(ErrUnknownMethod, "method %d", uint32(method))
}
