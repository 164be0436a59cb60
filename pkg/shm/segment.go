package shm

import (
	"fmt"
	"syscall"
	"unsafe"
)

const (
	ipcCreat = 01000
	ipcExcl  = 02000
	ipcRmid  = 0
)

// Segment is an attached SysV shared memory segment.
// Created reports whether this process allocated the segment (first
// attacher), which decides who initializes the queue header.
type Segment struct {
	ID      int
	Addr    uintptr
	Size    int
	Created bool
}

// Attach attaches to an existing segment. Fails if the key does not exist.
func Attach(key, size int) (*Segment, error) {
	total := pageAlign(size)
	id, _, errno := syscall.Syscall(sysShmGet, uintptr(key), uintptr(total), uintptr(0666))
	if errno != 0 {
		return nil, fmt.Errorf("shmget(key=0x%x, size=%d): %w", key, total, errno)
	}
	addr, _, errno := syscall.Syscall(sysShmAt, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat(id=%d): %w", id, errno)
	}
	return &Segment{ID: int(id), Addr: addr, Size: total}, nil
}

// AttachOrCreate attaches to the segment for key, allocating it if absent.
// The IPC_EXCL round-trip tells us whether we are the first attacher.
func AttachOrCreate(key, size int) (*Segment, error) {
	total := pageAlign(size)
	created := true
	id, _, errno := syscall.Syscall(sysShmGet, uintptr(key), uintptr(total), uintptr(ipcCreat|ipcExcl|0666))
	if errno == syscall.EEXIST {
		created = false
		id, _, errno = syscall.Syscall(sysShmGet, uintptr(key), uintptr(total), uintptr(0666))
	}
	if errno != 0 {
		return nil, fmt.Errorf("shmget(key=0x%x, size=%d): %w", key, total, errno)
	}
	addr, _, errno := syscall.Syscall(sysShmAt, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat(id=%d): %w", id, errno)
	}
	return &Segment{ID: int(id), Addr: addr, Size: total, Created: created}, nil
}

// Detach unmaps the segment from this process.
func (s *Segment) Detach() error {
	_, _, errno := syscall.Syscall(sysShmDt, s.Addr, 0, 0)
	if errno != 0 {
		return fmt.Errorf("shmdt(addr=0x%x): %w", s.Addr, errno)
	}
	return nil
}

// Remove marks the segment for destruction once every attacher is gone.
func (s *Segment) Remove() error {
	_, _, errno := syscall.Syscall(sysShmCtl, uintptr(s.ID), ipcRmid, 0)
	if errno != 0 {
		return fmt.Errorf("shmctl(id=%d, IPC_RMID): %w", s.ID, errno)
	}
	return nil
}

// Ptr returns the segment base address.
func (s *Segment) Ptr() unsafe.Pointer {
	return unsafe.Pointer(s.Addr)
}

func pageAlign(size int) int {
	pageSize := syscall.Getpagesize()
	if size%pageSize == 0 {
		return size
	}
	return size + pageSize - (size % pageSize)
}
