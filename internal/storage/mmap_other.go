//go:build !unix

package storage

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("storage: mmap not supported on this platform")

func mmapFile(*os.File, int) ([]byte, error) { return nil, errNoMmap }

func munmapFile([]byte) error { return nil }

func msyncFile([]byte) error { return nil }
