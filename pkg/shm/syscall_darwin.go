package shm

import "syscall"

// macOS (Darwin) SysV SHM syscall numbers
const (
	sysShmGet = syscall.SYS_SHMGET
	sysShmAt  = syscall.SYS_SHMAT
	sysShmDt  = syscall.SYS_SHMDT
	sysShmCtl = syscall.SYS_SHMCTL
)
