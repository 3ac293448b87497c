//go:build unix

package checkpoint

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(
		int(f.Fd()), //nolint:gosec // G115: file descriptors fit in int
		0,
		int(size), //nolint:gosec // G115: checked against the file size
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
