package shm

import (
	"os"
	"sync"
	"testing"
)

// Test keys live outside the deployment key range; each test removes its
// segment so reruns start clean.
func testKey(base int) int {
	return 0x7A000 + base + os.Getpid()%256
}

type testRec struct {
	Seq   uint64
	Value int64
}

func TestQueueFIFOSingleThread(t *testing.T) {
	q, err := OpenQueue[testRec](testKey(1), 64)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	defer q.Destroy()

	if !q.IsEmpty() {
		t.Fatal("new queue not empty")
	}

	for i := 0; i < 100; i++ {
		rec := testRec{Seq: uint64(i), Value: int64(i * 10)}
		if err := q.Enqueue(&rec, 0); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
		var out testRec
		if !q.TryDequeue(&out) {
			t.Fatalf("TryDequeue(%d): empty", i)
		}
		if out != rec {
			t.Fatalf("round trip %d: got %+v want %+v", i, out, rec)
		}
	}

	var out testRec
	if q.TryDequeue(&out) {
		t.Fatal("dequeue from drained queue succeeded")
	}
}

func TestQueueFullReturnsError(t *testing.T) {
	q, err := OpenQueue[testRec](testKey(2), 8)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	defer q.Destroy()

	rec := testRec{Value: 7}
	for i := 0; i < 8; i++ {
		if err := q.Enqueue(&rec, 16); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	if err := q.Enqueue(&rec, 16); err != ErrQueueFull {
		t.Fatalf("enqueue on full queue: err=%v, want ErrQueueFull", err)
	}

	// Draining one slot frees one claim.
	var out testRec
	if !q.TryDequeue(&out) {
		t.Fatal("drain failed")
	}
	if err := q.Enqueue(&rec, 16); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
}

func TestQueueWrapAround(t *testing.T) {
	q, err := OpenQueue[testRec](testKey(3), 4)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	defer q.Destroy()

	// Several laps around a tiny ring exercise the sequence arithmetic.
	next := uint64(0)
	for lap := 0; lap < 10; lap++ {
		for i := 0; i < 4; i++ {
			rec := testRec{Seq: next + uint64(i)}
			if err := q.Enqueue(&rec, 16); err != nil {
				t.Fatalf("lap %d enqueue %d: %v", lap, i, err)
			}
		}
		for i := 0; i < 4; i++ {
			var out testRec
			if !q.TryDequeue(&out) {
				t.Fatalf("lap %d dequeue %d: empty", lap, i)
			}
			if out.Seq != next {
				t.Fatalf("lap %d: got seq %d want %d", lap, out.Seq, next)
			}
			next++
		}
	}
}

// Multi-writer multi-reader: every enqueued value must be dequeued exactly
// once, across all readers, regardless of interleaving.
func TestQueueConcurrentProducersConsumers(t *testing.T) {
	q, err := OpenQueue[testRec](testKey(4), 1024)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	defer q.Destroy()

	const (
		producers = 4
		consumers = 4
		perProd   = 2000
	)
	total := producers * perProd

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				rec := testRec{Value: int64(p*perProd + i)}
				for q.Enqueue(&rec, DefaultTryBudget) != nil {
				}
			}
		}(p)
	}

	results := make(chan int64, total)
	var rg sync.WaitGroup
	done := make(chan struct{})
	for c := 0; c < consumers; c++ {
		rg.Add(1)
		go func() {
			defer rg.Done()
			var out testRec
			for {
				if q.TryDequeue(&out) {
					results <- out.Value
					continue
				}
				select {
				case <-done:
					// Final drain after producers finish.
					for q.TryDequeue(&out) {
						results <- out.Value
					}
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	rg.Wait()
	close(results)

	seen := make(map[int64]int, total)
	for v := range results {
		seen[v]++
	}
	if len(seen) != total {
		t.Fatalf("distinct values = %d, want %d", len(seen), total)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d dequeued %d times", v, n)
		}
	}
}

func TestQueueGeometryMismatchRejected(t *testing.T) {
	key := testKey(5)
	q, err := OpenQueue[testRec](key, 64)
	if err != nil {
		t.Fatalf("OpenQueue: %v", err)
	}
	defer q.Destroy()

	// Same key, same element type, different capacity: must refuse.
	if q2, err := OpenQueue[testRec](key, 128); err == nil {
		q2.Close()
		t.Fatal("geometry mismatch not rejected")
	}
}

func TestClientStoreAllocation(t *testing.T) {
	cs, err := OpenClientStore(testKey(6))
	if err != nil {
		t.Fatalf("OpenClientStore: %v", err)
	}
	defer cs.Destroy()

	first := cs.NextClientID()
	second := cs.NextClientID()
	if second != first+1 {
		t.Fatalf("ids not monotone: %d then %d", first, second)
	}
	if cs.FirstClientID() != 1 {
		t.Fatalf("FirstClientID = %d, want 1", cs.FirstClientID())
	}
}
