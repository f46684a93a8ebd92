//go:build !unix

package tagmem

func mapBacking(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapBacking(data []byte) error {
	return nil
}
