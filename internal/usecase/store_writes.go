package usecase

import (
	"sync"
	"time"
)

const storeTimeout = 2 * time.Second

// storeWrites runs store calls off the controller lock. Writes are captured
// in state order under the owner's lock. A write that lost the race to a
// later capture for the same key is skipped, so each key ends on its newest state.
type storeWrites struct {
	seq uint64 // guarded by the owner's lock

	mu      sync.Mutex // serializes the writes themselves
	applied map[string]uint64

	pmu     sync.Mutex
	pending int
	idle    *sync.Cond
}

// goLocked schedules fn. The caller holds the owner's lock.
func (w *storeWrites) goLocked(key string, fn func()) {
	w.seq++
	seq := w.seq

	w.pmu.Lock()
	w.pending++
	w.pmu.Unlock()

	go func() {
		defer w.done()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.applied == nil {
			w.applied = make(map[string]uint64)
		}
		if seq <= w.applied[key] {
			return
		}
		w.applied[key] = seq
		fn()
	}()
}

func (w *storeWrites) done() {
	w.pmu.Lock()
	defer w.pmu.Unlock()
	w.pending--
	if w.pending == 0 && w.idle != nil {
		w.idle.Broadcast()
	}
}

// flush blocks until every write scheduled so far has returned.
func (w *storeWrites) flush() {
	w.pmu.Lock()
	defer w.pmu.Unlock()
	if w.idle == nil {
		w.idle = sync.NewCond(&w.pmu)
	}
	for w.pending > 0 {
		w.idle.Wait()
	}
}
