package stream

import "sync"

// offsetTracker serializes offset commits for one topic partition.
// Messages complete out of order across the user-partitioned workers,
// but Kafka offsets must be committed contiguously: the watermark only
// advances past an offset once every offset below it is done.
type offsetTracker struct {
	mu          sync.Mutex
	next        int64
	done        map[int64]struct{}
	initialized bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{done: make(map[int64]struct{})}
}

// track registers a dispatched offset. Offsets arrive in order from the
// consumer claim; the first one seeds the watermark.
func (t *offsetTracker) track(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		t.next = offset
		t.initialized = true
	}
}

// complete marks an offset finished and returns the new commit
// position (one past the highest contiguous completed offset), with
// ok=false while the lowest outstanding offset is still in flight.
func (t *offsetTracker) complete(offset int64) (commit int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[offset] = struct{}{}

	advanced := false
	for {
		if _, finished := t.done[t.next]; !finished {
			break
		}
		delete(t.done, t.next)
		t.next++
		advanced = true
	}

	if !advanced {
		return 0, false
	}
	return t.next, true
}
