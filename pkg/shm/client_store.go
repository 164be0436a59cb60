package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// OrderIDRange partitions the uint32 order-id space per client so that a
// restarted strategy process never reuses a live id.
// OrderID = clientID*OrderIDRange + seq
const OrderIDRange = 1_000_000

// clientStoreData mirrors the 16-byte SHM block:
// [atomic counter int64][first client id int64]
type clientStoreData struct {
	Counter       int64
	FirstClientID int64
}

// ClientStore hands out monotonically increasing client ids across every
// process attached to the session, surviving restarts of either end.
type ClientStore struct {
	seg     *Segment
	counter *int64
}

// OpenClientStore attaches to (or allocates) the client store segment.
func OpenClientStore(key int) (*ClientStore, error) {
	seg, err := AttachOrCreate(key, int(unsafe.Sizeof(clientStoreData{})))
	if err != nil {
		return nil, fmt.Errorf("ClientStore: key=0x%x: %w", key, err)
	}
	cs := &ClientStore{
		seg:     seg,
		counter: (*int64)(seg.Ptr()),
	}
	if seg.Created {
		atomic.StoreInt64(cs.counter, 1)
		first := (*int64)(unsafe.Pointer(seg.Addr + 8))
		*first = 1
	}
	return cs, nil
}

// NextClientID atomically allocates the next client id.
func (cs *ClientStore) NextClientID() int64 {
	return atomic.AddInt64(cs.counter, 1) - 1
}

// CurrentClientID returns the counter without allocating.
func (cs *ClientStore) CurrentClientID() int64 {
	return atomic.LoadInt64(cs.counter)
}

// FirstClientID returns the initial id recorded at segment creation.
func (cs *ClientStore) FirstClientID() int64 {
	first := (*int64)(unsafe.Pointer(cs.seg.Addr + 8))
	return *first
}

// Close detaches the segment.
func (cs *ClientStore) Close() error {
	return cs.seg.Detach()
}

// Destroy detaches and removes the segment (tests).
func (cs *ClientStore) Destroy() error {
	if err := cs.seg.Detach(); err != nil {
		return err
	}
	return cs.seg.Remove()
}
