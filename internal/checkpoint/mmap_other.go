//go:build !unix

package checkpoint

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("mmap not supported")

func mapFile(*os.File, int64) ([]byte, error) {
	return nil, errNoMmap
}

func unmapFile([]byte) error {
	return nil
}
