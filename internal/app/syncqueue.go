package app

import "sync"

// syncRun is one pending or active execution. Multiple callers may wait
// on the same run.
type syncRun struct {
	fn   func() error
	done chan struct{}
	err  error
}

// syncQueue coalesces work per key: at most one run is active and one
// queued. Requests arriving while a run is queued attach to the queued
// run instead of adding a third.
type syncQueue struct {
	mu     sync.Mutex
	states map[string]*syncState
}

type syncState struct {
	active *syncRun
	queued *syncRun
}

func newSyncQueue() *syncQueue {
	return &syncQueue{states: make(map[string]*syncState)}
}

// Do schedules fn under the given key and blocks until the run it was
// attached to finishes.
func (q *syncQueue) Do(key string, fn func() error) error {
	q.mu.Lock()
	st := q.states[key]
	if st == nil {
		st = &syncState{}
		q.states[key] = st
	}
	var run *syncRun
	switch {
	case st.active == nil:
		run = &syncRun{fn: fn, done: make(chan struct{})}
		st.active = run
		go q.execute(key, st, run)
	case st.queued == nil:
		run = &syncRun{fn: fn, done: make(chan struct{})}
		st.queued = run
	default:
		run = st.queued
	}
	q.mu.Unlock()

	<-run.done
	return run.err
}

func (q *syncQueue) execute(key string, st *syncState, run *syncRun) {
	run.err = run.fn()
	close(run.done)

	q.mu.Lock()
	if st.queued != nil {
		next := st.queued
		st.queued = nil
		st.active = next
		go q.execute(key, st, next)
	} else {
		st.active = nil
		delete(q.states, key)
	}
	q.mu.Unlock()
}
