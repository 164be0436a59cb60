package shm

// Process-global SysV keys for the shared queues. Overridable from the
// YAML config; these are the deployment defaults.
const (
	KeyRequestQueue  = 0x0F20
	KeyResponseQueue = 0x1308
	KeyMDQueue       = 0x1001
	KeyClientStore   = 0x16F0
)

// Default ring capacities (power of two).
const (
	DefaultRequestQueueSize  = 4096
	DefaultResponseQueueSize = 4096
	DefaultMDQueueSize       = 65536
)
