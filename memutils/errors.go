package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is returned by CheckPow2 when a size or alignment is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")
