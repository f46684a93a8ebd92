package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

const (
	// FillAllocated is the pattern written over the requested bytes of a new allocation
	FillAllocated uint32 = 0xA110CA7D
	// FillPadding is the pattern written between the end of the requested bytes of a new allocation
	// and the end of the space actually reserved for it
	FillPadding uint32 = 0x5CAFF01D
	// FillFreed is the pattern written over memory when it is returned to the pool
	FillFreed uint32 = 0xDE1E7ED0
)
