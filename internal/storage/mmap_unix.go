//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapFile(b []byte) error { return unix.Munmap(b) }

func msyncFile(b []byte) error { return unix.Msync(b, unix.MS_SYNC) }
