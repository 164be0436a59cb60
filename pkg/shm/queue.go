package shm

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// MWMRQueue is a bounded multi-writer multi-reader ring of fixed-size
// records in a SysV shared memory segment.
//
// SHM layout:
//
//	[queueHeader (32 bytes)][slot[0]][slot[1]]...[slot[capacity-1]]
//
// where each slot is [sequence uint64][payload T]. capacity is a power of
// two. Slot sequences carry the claim protocol: a slot whose sequence
// equals seq is free for the enqueuer that claimed position seq; the
// publishing store of seq+1 makes the payload visible; the dequeuer that
// consumed position seq stores seq+capacity, freeing the slot for the
// next lap.
//
// 跨进程共享的唯一可变内存；除此之外各进程内部结构各自持锁。
type MWMRQueue[T any] struct {
	seg      *Segment
	capacity uint64
	mask     uint64
	elemSize uintptr
	dataSize uintptr

	headSeq *uint64 // in SHM
	tailSeq *uint64 // in SHM
	slots   uintptr // first slot address
}

// queueHeader mirrors the SHM header block.
// Layout: Capacity(8) + HeadSeq(8) + TailSeq(8) + ElemSize(8) = 32 bytes
type queueHeader struct {
	Capacity int64
	HeadSeq  uint64
	TailSeq  uint64
	ElemSize int64
}

const queueHeaderSize = unsafe.Sizeof(queueHeader{})

// ErrQueueFull is returned by Enqueue when the ring stays full for the
// whole try budget. Callers decide whether to retry, drop, or surface
// backpressure.
var ErrQueueFull = errors.New("shm queue full")

// DefaultTryBudget bounds the fullness spin in Enqueue.
const DefaultTryBudget = 1 << 14

// OpenQueue attaches to the queue for key, allocating and initializing the
// segment when this process is the first attacher. queueSize is rounded up
// to the next power of two. A later attacher with a mismatched geometry is
// rejected rather than silently corrupting the ring.
func OpenQueue[T any](key int, queueSize int) (*MWMRQueue[T], error) {
	capacity := nextPowerOf2(uint64(queueSize))

	var zero T
	dataSize := unsafe.Sizeof(zero)
	elemSize := uintptr(8) + dataSize
	totalBytes := int(queueHeaderSize + uintptr(capacity)*elemSize)

	seg, err := AttachOrCreate(key, totalBytes)
	if err != nil {
		return nil, fmt.Errorf("MWMRQueue: key=0x%x: %w", key, err)
	}

	hdr := (*queueHeader)(seg.Ptr())
	q := &MWMRQueue[T]{
		seg:      seg,
		capacity: capacity,
		mask:     capacity - 1,
		elemSize: elemSize,
		dataSize: dataSize,
		headSeq:  &hdr.HeadSeq,
		tailSeq:  &hdr.TailSeq,
		slots:    seg.Addr + queueHeaderSize,
	}

	if seg.Created {
		hdr.Capacity = int64(capacity)
		hdr.ElemSize = int64(elemSize)
		atomic.StoreUint64(&hdr.HeadSeq, 0)
		atomic.StoreUint64(&hdr.TailSeq, 0)
		for i := uint64(0); i < capacity; i++ {
			atomic.StoreUint64(q.slotSeq(i), i)
		}
	} else {
		if hdr.Capacity != int64(capacity) || hdr.ElemSize != int64(elemSize) {
			seg.Detach()
			return nil, fmt.Errorf("MWMRQueue: key=0x%x geometry mismatch: have cap=%d elem=%d, want cap=%d elem=%d",
				key, hdr.Capacity, hdr.ElemSize, capacity, elemSize)
		}
	}

	return q, nil
}

// Enqueue publishes value, spinning up to tryBudget iterations while the
// ring is full. The claim itself is a single fetch-add on the tail
// sequence; the payload copy happens-before the publishing sequence store.
func (q *MWMRQueue[T]) Enqueue(value *T, tryBudget int) error {
	if tryBudget <= 0 {
		tryBudget = DefaultTryBudget
	}

	// Bounded fullness gate. A burst of writers can all pass at once;
	// the per-slot sequence spin below serializes the stragglers.
	for spins := 0; ; spins++ {
		head := atomic.LoadUint64(q.headSeq)
		tail := atomic.LoadUint64(q.tailSeq)
		if tail-head < q.capacity {
			break
		}
		if spins >= tryBudget {
			return ErrQueueFull
		}
		runtime.Gosched()
	}

	claimed := atomic.AddUint64(q.tailSeq, 1) - 1
	seqPtr := q.slotSeq(claimed & q.mask)
	for atomic.LoadUint64(seqPtr) != claimed {
		runtime.Gosched()
	}

	memCopy(unsafe.Pointer(q.slotData(claimed&q.mask)), unsafe.Pointer(value), q.dataSize)
	atomic.StoreUint64(seqPtr, claimed+1)
	return nil
}

// TryDequeue copies the next record into out. Returns false when the
// queue is empty. Multiple readers race on the head CAS; the loser
// discards its copy and retries against the new head.
func (q *MWMRQueue[T]) TryDequeue(out *T) bool {
	for {
		head := atomic.LoadUint64(q.headSeq)
		seqPtr := q.slotSeq(head & q.mask)
		if atomic.LoadUint64(seqPtr) != head+1 {
			return false // empty, or the slot is still being written
		}

		memCopy(unsafe.Pointer(out), unsafe.Pointer(q.slotData(head&q.mask)), q.dataSize)

		if atomic.CompareAndSwapUint64(q.headSeq, head, head+1) {
			atomic.StoreUint64(seqPtr, head+q.capacity)
			return true
		}
		// Another reader consumed this slot first; our copy is stale.
	}
}

// IsEmpty reports whether the ring was observed empty.
func (q *MWMRQueue[T]) IsEmpty() bool {
	return atomic.LoadUint64(q.headSeq) == atomic.LoadUint64(q.tailSeq)
}

// Depth returns the observed number of queued records.
func (q *MWMRQueue[T]) Depth() uint64 {
	head := atomic.LoadUint64(q.headSeq)
	tail := atomic.LoadUint64(q.tailSeq)
	if tail < head {
		return 0
	}
	return tail - head
}

// Capacity returns the ring capacity.
func (q *MWMRQueue[T]) Capacity() uint64 {
	return q.capacity
}

// Close detaches from the segment, leaving it alive for other attachers.
func (q *MWMRQueue[T]) Close() error {
	return q.seg.Detach()
}

// Destroy detaches and removes the segment (tests and teardown tools).
func (q *MWMRQueue[T]) Destroy() error {
	if err := q.seg.Detach(); err != nil {
		return err
	}
	return q.seg.Remove()
}

func (q *MWMRQueue[T]) slotSeq(idx uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(q.slots + uintptr(idx)*q.elemSize))
}

func (q *MWMRQueue[T]) slotData(idx uint64) uintptr {
	return q.slots + uintptr(idx)*q.elemSize + 8
}

func nextPowerOf2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	if v&(v-1) == 0 {
		return v
	}
	r := uint64(1)
	for r < v {
		r <<= 1
	}
	return r
}

// memCopy copies n bytes between raw pointers without cgo.
func memCopy(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
