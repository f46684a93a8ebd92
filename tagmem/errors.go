package tagmem

import "github.com/cockroachdb/errors"

var (
	// ErrUnmapped is returned when an access touches an address that no region of the Space maps
	ErrUnmapped = errors.New("address is not mapped")
	// ErrMisaligned is returned when a capability load or store is not aligned to GranuleSize
	ErrMisaligned = errors.New("capability access is not granule-aligned")
	// ErrTagViolation is returned when a checked access is made through a capability whose tag is clear
	ErrTagViolation = errors.New("capability tag violation")
	// ErrBoundsViolation is returned when a checked access falls outside the bounds of the capability
	// used to make it
	ErrBoundsViolation = errors.New("capability bounds violation")
	// ErrProtectionViolation is returned when a checked access is not permitted by the protection of the
	// region it touches
	ErrProtectionViolation = errors.New("region protection violation")
)
