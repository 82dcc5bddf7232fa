//go:build linux && (amd64 || arm64)

package shmbus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

type segment struct {
	file *os.File
	mem  []byte
}

// attachSegment opens or creates the named region, sized to hold every
// bus table, and initializes its header exactly once regardless of how
// many peers race to attach concurrently.
func attachSegment(name string) (*segment, error) {
	path := segmentPath(name)
	total := segmentTotalSize()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shmbus: open segment %q: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shmbus: stat segment: %w", err)
	}
	if info.Size() < int64(total) {
		if err := file.Truncate(int64(total)); err != nil {
			file.Close()
			return nil, fmt.Errorf("shmbus: resize segment: %w", err)
		}
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, total, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shmbus: mmap segment: %w", err)
	}

	seg := &segment{file: file, mem: mem}
	hdr := seg.header()
	if atomic.CompareAndSwapUint32(&hdr.initialized, 0, 1) {
		hdr.magic = busMagic
		hdr.version = busVersion
	}
	return seg, nil
}

func (s *segment) header() *busHeader {
	return (*busHeader)(unsafe.Pointer(&s.mem[0]))
}

func (s *segment) base() unsafe.Pointer {
	return unsafe.Pointer(&s.mem[0])
}

func (s *segment) close() error {
	if err := syscall.Munmap(s.mem); err != nil {
		return fmt.Errorf("shmbus: munmap: %w", err)
	}
	return s.file.Close()
}

func segmentPath(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" {
		base = "default"
	}
	return filepath.Join("/dev/shm", "fjshmbus_"+base)
}
