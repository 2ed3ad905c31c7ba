package sync

import (
	"context"
	"sync"
)

// Task is the handle of one asynchronous sync cycle
type Task struct {
	scope  Scope
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	report *CycleReport
	err    error
}

func newTask(parent context.Context, scope Scope) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{scope: scope, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Scope returns the scope the task synchronizes
func (t *Task) Scope() Scope { return t.scope }

// Done is closed when the cycle finished
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel aborts the cycle. Items already committed stay committed.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the cycle finished or ctx is done. Giving up on ctx does
// not cancel the task.
func (t *Task) Wait(ctx context.Context) (*CycleReport, error) {
	select {
	case <-t.done:
		return t.report, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) finish(report *CycleReport, err error) {
	t.report = report
	t.err = err
	t.cancel()
	close(t.done)
}

// cycleFunc runs one cycle for a scope
type cycleFunc func(ctx context.Context, scope Scope) (*CycleReport, error)

type flight struct {
	running *Task
	queued  *Task
}

// flightGroup runs at most one cycle per scope. Triggers arriving while a
// cycle runs share a single queued follow-up, started when the running one
// ends, so edits made during a cycle are always picked up.
type flightGroup struct {
	mu      sync.Mutex
	base    context.Context
	run     cycleFunc
	flights map[Scope]*flight
	wg      sync.WaitGroup
}

func newFlightGroup(base context.Context, run cycleFunc) *flightGroup {
	return &flightGroup{base: base, run: run, flights: make(map[Scope]*flight)}
}

func (g *flightGroup) trigger(scope Scope) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.flights[scope]
	if !ok {
		t := newTask(g.base, scope)
		g.flights[scope] = &flight{running: t}
		g.start(t)
		return t
	}
	if f.queued == nil {
		f.queued = newTask(g.base, scope)
	}
	return f.queued
}

// start must be called with g.mu held
func (g *flightGroup) start(t *Task) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		var (
			report *CycleReport
			err    error
		)
		if err = t.ctx.Err(); err == nil {
			report, err = g.run(t.ctx, t.scope)
		}
		t.finish(report, err)
		g.next(t.scope)
	}()
}

func (g *flightGroup) next(scope Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.flights[scope]
	if f == nil {
		return
	}
	if f.queued == nil {
		delete(g.flights, scope)
		return
	}
	f.running, f.queued = f.queued, nil
	g.start(f.running)
}

// inFlight reports whether a cycle is running for scope
func (g *flightGroup) inFlight(scope Scope) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flights[scope]
	return ok
}

// wait blocks until every started cycle returned
func (g *flightGroup) wait() {
	g.wg.Wait()
}

// keyLock serializes read-modify-write sequences on records of one scope
// between local mutations and the coordinator's commits
type keyLock struct {
	mu    sync.Mutex
	locks map[Scope]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[Scope]*scopeLock)}
}

// lock acquires the scope lock and returns its release func
func (k *keyLock) lock(scope Scope) func() {
	k.mu.Lock()
	l, ok := k.locks[scope]
	if !ok {
		l = &scopeLock{}
		k.locks[scope] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, scope)
		}
		k.mu.Unlock()
	}
}
