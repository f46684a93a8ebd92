//go:build unix

package tagmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func mapBacking(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes failed", size)
	}
	return data, nil
}

func unmapBacking(data []byte) error {
	return unix.Munmap(data)
}
