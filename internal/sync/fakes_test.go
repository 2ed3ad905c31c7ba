package sync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xelth-com/taskchat-sync/internal/store"
	"github.com/xelth-com/taskchat-sync/internal/sync"
)

type note struct {
	Title string `json:"title"`
}

const notes sync.EntityType = "notes"

var teamScope = sync.NewScope(notes, "team-1")

type fakeClock struct {
	mu  gosync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRemote is an in-memory remote store. Every entity version gets the
// remote clock's time as LastModified.
type fakeRemote struct {
	mu       gosync.Mutex
	clock    *fakeClock
	seq      int
	entities map[string]sync.RemoteEntity[note]
	byKey    map[string]string

	creates, updates, deletes, lists int

	// fail, when set, is consulted before every call
	fail func(op string, p note) error
	// onCreate, when set, runs before Create touches any state
	onCreate func(ctx context.Context, p note) error
	// extra is appended to every page
	extra []sync.RemoteEntity[note]
	// pageSize, when set, splits ListSince results into pages
	pageSize int
	// dropAck makes Create store the entity and then fail
	dropAck bool
	// stall lists the ops that block until their context is done
	stall map[string]bool
}

func newFakeRemote(clock *fakeClock) *fakeRemote {
	return &fakeRemote{
		clock:    clock,
		entities: make(map[string]sync.RemoteEntity[note]),
		byKey:    make(map[string]string),
	}
}

// wait blocks a stalled op until the caller gives up
func (f *fakeRemote) wait(ctx context.Context, op string) error {
	f.mu.Lock()
	stalled := f.stall[op]
	f.mu.Unlock()
	if !stalled {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRemote) check(op string, p note) error {
	if f.fail != nil {
		return f.fail(op, p)
	}
	return nil
}

func (f *fakeRemote) Create(ctx context.Context, scope sync.Scope, key string, p note) (string, error) {
	if err := f.wait(ctx, "create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return "", err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.check("create", p); err != nil {
		return "", err
	}
	if id, ok := f.byKey[key]; ok {
		return id, nil
	}
	f.seq++
	id := fmt.Sprintf("srv-%d", f.seq)
	f.byKey[key] = id
	f.entities[id] = sync.RemoteEntity[note]{ServerID: id, LastModified: f.clock.Now(), Payload: p}
	if f.dropAck {
		return "", errors.New("connection reset by peer")
	}
	return id, nil
}

func (f *fakeRemote) Update(ctx context.Context, scope sync.Scope, serverID string, p note) error {
	if err := f.wait(ctx, "update"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if err := f.check("update", p); err != nil {
		return err
	}
	f.entities[serverID] = sync.RemoteEntity[note]{ServerID: serverID, LastModified: f.clock.Now(), Payload: p}
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, scope sync.Scope, serverID string) error {
	if err := f.wait(ctx, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if err := f.check("delete", note{}); err != nil {
		return err
	}
	f.entities[serverID] = sync.RemoteEntity[note]{ServerID: serverID, LastModified: f.clock.Now(), Deleted: true}
	return nil
}

func (f *fakeRemote) ListSince(ctx context.Context, scope sync.Scope, since sync.Cursor) (sync.Page[note], error) {
	if err := f.wait(ctx, "list"); err != nil {
		return sync.Page[note]{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if err := f.check("list", note{}); err != nil {
		return sync.Page[note]{}, err
	}
	var page sync.Page[note]
	for _, e := range f.entities {
		if !e.LastModified.Before(since.LastPullTimestamp) {
			page.Entities = append(page.Entities, e)
		}
	}
	sort.Slice(page.Entities, func(i, j int) bool {
		return page.Entities[i].LastModified.Before(page.Entities[j].LastModified)
	})
	if f.pageSize > 0 && len(page.Entities) > f.pageSize {
		page.Entities = page.Entities[:f.pageSize]
	}
	if f.pageSize > 0 && len(page.Entities) > 0 {
		page.Next = sync.Cursor{LastPullTimestamp: page.Entities[len(page.Entities)-1].LastModified}
	}
	page.Entities = append(page.Entities, f.extra...)
	return page, nil
}

func (f *fakeRemote) setFail(fn func(op string, p note) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

func (f *fakeRemote) setOnCreate(fn func(ctx context.Context, p note) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCreate = fn
}

func (f *fakeRemote) setExtra(extra ...sync.RemoteEntity[note]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extra = extra
}

func (f *fakeRemote) setPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

func (f *fakeRemote) setDropAck(drop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropAck = drop
}

func (f *fakeRemote) setStall(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = make(map[string]bool, len(ops))
	for _, op := range ops {
		f.stall[op] = true
	}
}

func (f *fakeRemote) get(serverID string) (sync.RemoteEntity[note], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[serverID]
	return e, ok
}

func (f *fakeRemote) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities)
}

// put stores a version written by another client
func (f *fakeRemote) put(e sync.RemoteEntity[note]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[e.ServerID] = e
}

func (f *fakeRemote) calls() (creates, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.deletes
}

type onlineSwitch struct{ off atomic.Bool }

func (o *onlineSwitch) IsAvailable() bool { return !o.off.Load() }
func (o *onlineSwitch) set(online bool)   { o.off.Store(!online) }

type harness struct {
	clock  *fakeClock
	store  *store.MemoryStore[note]
	remote *fakeRemote
	online *onlineSwitch
	coord  *sync.Coordinator[note]
	repo   *sync.Repository[note]
}

func newHarness(t *testing.T, mutate ...func(*sync.Options)) *harness {
	t.Helper()
	h := &harness{
		clock:  newClock(),
		store:  store.NewMemoryStore[note](),
		online: &onlineSwitch{},
	}
	h.remote = newFakeRemote(h.clock)

	var ids atomic.Int64
	opts := sync.Options{
		Retry:        sync.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour},
		CallTimeout:  time.Second,
		Clock:        h.clock,
		Logger:       log.New(io.Discard, "", 0),
		Connectivity: h.online,
		NewID:        func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.coord = sync.NewCoordinator[note](sync.Passthrough[note]{Kind: notes}, h.store, h.store, h.remote, opts)
	h.repo = sync.NewRepository(h.coord)
	t.Cleanup(h.coord.Close)
	return h
}

// offline makes mutations skip their background trigger
func (h *harness) offline() { h.online.set(false) }

func (h *harness) run(t *testing.T) (*sync.CycleReport, error) {
	t.Helper()
	h.online.set(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := h.coord.Run(ctx, teamScope)
	require.NotNil(t, report)
	return report, err
}

func (h *harness) get(t *testing.T, localID string) sync.Record[note] {
	t.Helper()
	rec, err := h.repo.Get(context.Background(), teamScope, localID)
	require.NoError(t, err)
	return rec
}
