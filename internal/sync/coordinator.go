package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds every remote call of a cycle
const DefaultCallTimeout = 30 * time.Second

// maxPullPages bounds the ListSince calls of one pull
const maxPullPages = 1000

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	Retry        RetryPolicy
	CallTimeout  time.Duration
	Clock        Clock
	Logger       *log.Logger
	Connectivity Connectivity
	// OnReport is called after every cycle, from the cycle's goroutine
	OnReport func(*CycleReport)
	// NewID generates local ids and idempotency keys
	NewID func() string
}

func (o Options) withDefaults() Options {
	o.Retry = o.Retry.withDefaults()
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if o.Connectivity == nil {
		o.Connectivity = AlwaysOnline
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Syncer is a Coordinator with its payload type erased, as hosted by the Engine
type Syncer interface {
	EntityType() EntityType
	Trigger(scope Scope) *Task
	Run(ctx context.Context, scope Scope) (*CycleReport, error)
	Cursor(ctx context.Context, scope Scope) (Cursor, error)
	DeadLetters(ctx context.Context, scope Scope) ([]DeadLetter, error)
	Requeue(ctx context.Context, scope Scope, localID string) error
	LastReport(scope Scope) *CycleReport
	InFlight(scope Scope) bool
	Close()
}

// Coordinator runs push/pull cycles for one entity type
type Coordinator[P any] struct {
	entity  Entity[P]
	store   LocalStore[P]
	cursors CursorStore
	remote  RemoteClient[P]
	opts    Options
	log     *log.Logger

	locks   *keyLock
	flights *flightGroup
	stop    context.CancelFunc

	mu      sync.Mutex
	closed  bool
	reports map[Scope]*CycleReport
}

var _ Syncer = (*Coordinator[struct{}])(nil)

// NewCoordinator wires an entity capability to its ports
func NewCoordinator[P any](entity Entity[P], store LocalStore[P], cursors CursorStore, remote RemoteClient[P], opts Options) *Coordinator[P] {
	opts = opts.withDefaults()
	base, stop := context.WithCancel(context.Background())
	c := &Coordinator[P]{
		entity:  entity,
		store:   store,
		cursors: cursors,
		remote:  remote,
		opts:    opts,
		log:     opts.Logger,
		locks:   newKeyLock(),
		stop:    stop,
		reports: make(map[Scope]*CycleReport),
	}
	c.flights = newFlightGroup(base, c.cycle)
	return c
}

// EntityType returns the entity family this coordinator serves
func (c *Coordinator[P]) EntityType() EntityType {
	return c.entity.Type()
}

// Trigger starts a cycle for scope in the background, or joins the follow-up
// cycle queued behind a running one
func (c *Coordinator[P]) Trigger(scope Scope) *Task {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		t := newTask(context.Background(), scope)
		t.finish(nil, ErrClosed)
		return t
	}
	return c.flights.trigger(scope)
}

// Run triggers a cycle and waits for it. Cancelling ctx stops the wait only.
func (c *Coordinator[P]) Run(ctx context.Context, scope Scope) (*CycleReport, error) {
	return c.Trigger(scope).Wait(ctx)
}

// InFlight reports whether a cycle is running for scope
func (c *Coordinator[P]) InFlight(scope Scope) bool {
	return c.flights.inFlight(scope)
}

// LastReport returns the report of the most recent finished cycle of scope
func (c *Coordinator[P]) LastReport(scope Scope) *CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reports[scope]
}

// Cursor returns the stored pull watermark of scope
func (c *Coordinator[P]) Cursor(ctx context.Context, scope Scope) (Cursor, error) {
	return c.cursors.LoadCursor(ctx, scope)
}

// Close cancels running cycles and waits for them to return
func (c *Coordinator[P]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.flights.wait()
}

// DeadLetters lists the records of scope that are no longer pushed
func (c *Coordinator[P]) DeadLetters(ctx context.Context, scope Scope) ([]DeadLetter, error) {
	var out []DeadLetter
	for _, status := range pushOrder {
		recs, err := c.store.QueryPending(ctx, scope, status)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s records: %w", status, err)
		}
		for _, rec := range recs {
			if rec.DeadLettered() {
				out = append(out, deadLetterOf(rec))
			}
		}
	}
	return out, nil
}

// Requeue resets the retry bookkeeping of a record and triggers a cycle
func (c *Coordinator[P]) Requeue(ctx context.Context, scope Scope, localID string) error {
	unlock := c.locks.lock(scope)
	rec, err := c.store.Get(ctx, scope, localID)
	if err != nil {
		unlock()
		return err
	}
	if !rec.Status.IsPending() {
		unlock()
		return fmt.Errorf("record %s is %s: %w", localID, rec.Status, ErrNotPending)
	}
	rec.clearRetry()
	err = c.store.Upsert(ctx, *rec)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to requeue %s: %w", localID, err)
	}

	c.log.Printf("♻️ Requeued %s in %s", localID, scope)
	c.Trigger(scope)
	return nil
}

// cycle is one push-then-pull pass; it runs inside the flight group only
func (c *Coordinator[P]) cycle(ctx context.Context, scope Scope) (*CycleReport, error) {
	report := &CycleReport{Scope: scope, StartedAt: c.opts.Clock.Now()}
	start := time.Now()

	var err error
	if !c.opts.Connectivity.IsAvailable() {
		report.Offline = true
		err = ErrOffline
	} else {
		var fails failures
		c.push(ctx, scope, report, &fails)
		c.pull(ctx, scope, report, &fails)
		if ctxErr := ctx.Err(); ctxErr != nil {
			fails.add(fmt.Errorf("cycle interrupted: %w", ctxErr))
		} else {
			report.Completed = true
		}
		err = fails.err(scope)
	}

	report.Duration = time.Since(start)
	if err != nil {
		report.Error = err.Error()
	}
	c.logReport(report)

	c.mu.Lock()
	c.reports[scope] = report
	c.mu.Unlock()
	if c.opts.OnReport != nil {
		c.opts.OnReport(report)
	}
	return report, err
}

func (c *Coordinator[P]) logReport(r *CycleReport) {
	switch {
	case r.Offline:
		c.log.Printf("📴 Sync %s skipped: offline", r.Scope)
	case r.Error != "":
		c.log.Printf("⚠️ Sync %s finished with errors in %v: pushed %d, failed %d, rejected %d, dead %d, pulled %d: %s",
			r.Scope, r.Duration, r.Count(OutcomeSucceeded), r.Count(OutcomeFailed), r.Count(OutcomeRejected),
			r.Count(OutcomeDeadLettered), r.Pull.Changed(), r.Error)
	case r.Outstanding() > 0:
		c.log.Printf("⏳ Sync %s completed in %v: pushed %d, pulled %d, deferred %d, waiting %d (%d dead-lettered)",
			r.Scope, r.Duration, r.Count(OutcomeSucceeded), r.Pull.Changed(), r.Pull.Deferred,
			r.Outstanding(), r.Count(OutcomeParked))
	default:
		c.log.Printf("✅ Sync %s completed in %v: pushed %d, pulled %d, deferred %d",
			r.Scope, r.Duration, r.Count(OutcomeSucceeded), r.Pull.Changed(), r.Pull.Deferred)
	}
}

// push sends every pending record of scope, creates first
func (c *Coordinator[P]) push(ctx context.Context, scope Scope, report *CycleReport, fails *failures) {
	for _, status := range pushOrder {
		if ctx.Err() != nil {
			return
		}
		recs, err := c.store.QueryPending(ctx, scope, status)
		if err != nil {
			fails.add(fmt.Errorf("failed to query %s records: %w", status, err))
			continue
		}
		for _, rec := range recs {
			if ctx.Err() != nil {
				return
			}
			if rec.DeadLettered() {
				report.Items = append(report.Items, ItemResult{
					LocalID: rec.LocalID, ServerID: rec.ServerID, Op: rec.Status, Outcome: OutcomeParked, Error: rec.LastError,
				})
				continue
			}
			if rec.BackingOff(c.opts.Clock.Now()) {
				report.Items = append(report.Items, ItemResult{
					LocalID: rec.LocalID, ServerID: rec.ServerID, Op: rec.Status, Outcome: OutcomeSkipped,
				})
				continue
			}
			item, err := c.pushOne(ctx, rec)
			report.Items = append(report.Items, item)
			fails.add(err)
		}
	}
}

func (c *Coordinator[P]) pushOne(ctx context.Context, rec Record[P]) (ItemResult, error) {
	item := ItemResult{LocalID: rec.LocalID, ServerID: rec.ServerID, Op: rec.Status}
	payload := c.entity.PendingPayload(rec)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	var (
		serverID string
		err      error
	)
	switch rec.Status {
	case StatusPendingCreate:
		serverID, err = c.createRemote(callCtx, rec, payload)
	case StatusPendingUpdate:
		if !rec.HasServerID() {
			err = errors.New("pending update without server id")
			break
		}
		err = c.remote.Update(callCtx, rec.Scope, rec.ServerID, payload)
	case StatusPendingDelete:
		if !rec.HasServerID() {
			// never reached the remote store, nothing to delete there
			break
		}
		err = c.remote.Delete(callCtx, rec.Scope, rec.ServerID)
	case StatusSynced:
		return item, nil
	}

	// Commits must land even if the cycle was cancelled after the remote
	// call returned.
	commitCtx := context.WithoutCancel(ctx)
	if err != nil {
		return c.commitFailure(commitCtx, rec, item, err)
	}
	return c.commitSuccess(commitCtx, rec, item, serverID)
}

func (c *Coordinator[P]) createRemote(ctx context.Context, rec Record[P], payload P) (string, error) {
	key := rec.IdempotencyKey
	if key == "" {
		key = rec.LocalID
	}
	id, err := c.remote.Create(ctx, rec.Scope, key, payload)
	if err == nil && id == "" {
		err = errors.New("remote create returned no server id")
	}
	return id, err
}

// commitSuccess persists the acknowledged state. The record is re-read under
// the scope lock; a local edit made while the call was in flight keeps its
// pending status so it is pushed again.
func (c *Coordinator[P]) commitSuccess(ctx context.Context, rec Record[P], item ItemResult, serverID string) (ItemResult, error) {
	unlock := c.locks.lock(rec.Scope)
	defer unlock()

	fail := func(err error) (ItemResult, error) {
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item, &ItemError{LocalID: rec.LocalID, Op: rec.Status, Err: err}
	}

	if serverID != "" {
		item.ServerID = serverID
	}
	item.Outcome = OutcomeSucceeded

	cur, err := c.store.Get(ctx, rec.Scope, rec.LocalID)
	if errors.Is(err, ErrNotFound) {
		if rec.Status == StatusPendingCreate {
			// deleted locally while the create was in flight
			if err := c.dropCopy(ctx, rec, serverID); err != nil {
				return fail(err)
			}
			tomb := rec
			tomb.ServerID = serverID
			tomb.Status = StatusPendingDelete
			tomb.LastModified = nextModified(rec.LastModified, c.opts.Clock.Now())
			tomb.clearRetry()
			if err := c.store.Upsert(ctx, tomb); err != nil {
				return fail(fmt.Errorf("failed to store tombstone: %w", err))
			}
		}
		return item, nil
	}
	if err != nil {
		return fail(fmt.Errorf("failed to reload record: %w", err))
	}

	edited := !cur.LastModified.Equal(rec.LastModified)

	switch rec.Status {
	case StatusPendingCreate:
		if err := c.dropCopy(ctx, rec, serverID); err != nil {
			return fail(err)
		}
		cur.ServerID = serverID
		if !edited {
			cur.Status = StatusSynced
			cur.clearRetry()
		} else if cur.Status == StatusPendingCreate {
			cur.Status = StatusPendingUpdate
		}
	case StatusPendingUpdate:
		if edited {
			return item, nil
		}
		cur.Status = StatusSynced
		cur.clearRetry()
	case StatusPendingDelete:
		if err := c.store.Remove(ctx, rec.Scope, rec.LocalID); err != nil {
			return fail(fmt.Errorf("failed to remove deleted record: %w", err))
		}
		return item, nil
	case StatusSynced:
		return item, nil
	}

	if err := c.store.Upsert(ctx, *cur); err != nil {
		return fail(fmt.Errorf("failed to store pushed record: %w", err))
	}
	return item, nil
}

// dropCopy removes the Synced record a pull inserted for serverID while the
// create of rec was still unacknowledged. Caller holds the scope lock.
func (c *Coordinator[P]) dropCopy(ctx context.Context, rec Record[P], serverID string) error {
	if serverID == "" || rec.HasServerID() {
		return nil
	}
	other, err := c.store.GetByServerID(ctx, rec.Scope, serverID)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", serverID, err)
	}
	if other == nil || other.LocalID == rec.LocalID || other.Status != StatusSynced {
		return nil
	}
	if err := c.store.Remove(ctx, rec.Scope, other.LocalID); err != nil {
		return fmt.Errorf("failed to remove pulled copy of %s: %w", serverID, err)
	}
	c.log.Printf("🔗 %s %s: merged pulled copy %s", rec.Scope, rec.LocalID, other.LocalID)
	return nil
}

// commitFailure leaves transient failures untouched and books rejections
func (c *Coordinator[P]) commitFailure(ctx context.Context, rec Record[P], item ItemResult, cause error) (ItemResult, error) {
	item.Error = cause.Error()
	itemErr := &ItemError{LocalID: rec.LocalID, Op: rec.Status, Err: cause}

	if !IsRejection(cause) {
		item.Outcome = OutcomeFailed
		return item, itemErr
	}

	unlock := c.locks.lock(rec.Scope)
	defer unlock()

	item.Outcome = OutcomeRejected
	cur, err := c.store.Get(ctx, rec.Scope, rec.LocalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return item, itemErr
		}
		return item, errors.Join(itemErr, fmt.Errorf("failed to reload rejected record: %w", err))
	}
	if !cur.LastModified.Equal(rec.LastModified) {
		// edited meanwhile; the new version gets a fresh budget
		return item, itemErr
	}

	if rejectRecord(c.opts.Retry, cur, c.opts.Clock.Now(), cause) {
		item.Outcome = OutcomeDeadLettered
		c.log.Printf("🔴 %s %s dead-lettered after %d attempts: %v", rec.Scope, rec.LocalID, cur.Attempts, cause)
	}
	if err := c.store.Upsert(ctx, *cur); err != nil {
		return item, errors.Join(itemErr, fmt.Errorf("failed to store retry state: %w", err))
	}
	return item, itemErr
}

// pull fetches remote changes since the stored cursor and merges them, page
// by page. The deferred cap applies to the saved cursor only, so a pending
// local record never hides the pages after it.
func (c *Coordinator[P]) pull(ctx context.Context, scope Scope, report *CycleReport, fails *failures) {
	if ctx.Err() != nil {
		return
	}
	pullFail := func(err error) {
		report.PullError = err.Error()
		fails.add(err)
	}

	before, err := c.cursors.LoadCursor(ctx, scope)
	if err != nil {
		pullFail(fmt.Errorf("failed to load cursor: %w", err))
		return
	}
	report.CursorBefore = before
	report.CursorAfter = before

	tracker := newCursorTracker(before)
	since := before
	for pages := 0; ; pages++ {
		if pages == maxPullPages {
			c.log.Printf("⚠️ %s: stopped after %d pages, continuing next cycle", scope, pages)
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		page, err := c.remote.ListSince(callCtx, scope, since)
		cancel()
		if err != nil {
			// pages merged so far still count
			pullFail(fmt.Errorf("failed to list remote changes: %w", err))
			break
		}
		report.Pull.Pages++

		for _, re := range page.Entities {
			if err := ctx.Err(); err != nil {
				return
			}
			re.LastModified = re.LastModified.UTC().Truncate(time.Microsecond)
			report.Pull.Fetched++
			tracker.observe(re.LastModified)

			if err := c.apply(ctx, scope, re, &report.Pull, tracker); err != nil {
				report.Pull.Errors++
				tracker.fail()
				pullFail(fmt.Errorf("failed to apply remote %s: %w", re.ServerID, err))
			}
		}
		if tracker.failed {
			break
		}
		tracker.pageDone(page.Next)

		// ListSince is inclusive, so a page that does not move past since
		// would be returned again
		if len(page.Entities) == 0 || page.Next.IsZero() || !since.Before(page.Next) {
			break
		}
		since = page.Next
	}

	next, advanced := tracker.next()
	if !advanced {
		return
	}
	if err := c.cursors.SaveCursor(ctx, scope, next); err != nil {
		pullFail(fmt.Errorf("failed to save cursor: %w", err))
		return
	}
	report.CursorAfter = next
	report.CursorAdvanced = true
}

// apply resolves one remote entity and writes the decision
func (c *Coordinator[P]) apply(ctx context.Context, scope Scope, re RemoteEntity[P], stats *PullStats, tracker *cursorTracker) error {
	unlock := c.locks.lock(scope)
	defer unlock()

	local, err := c.store.GetByServerID(ctx, scope, re.ServerID)
	if err != nil {
		return err
	}

	d := Resolve(local, re)
	switch d.Action {
	case ActionInsert:
		rec := Record[P]{
			Scope:        scope,
			LocalID:      c.opts.NewID(),
			ServerID:     re.ServerID,
			Status:       StatusSynced,
			LastModified: re.LastModified,
			Payload:      c.entity.ApplyRemote(Record[P]{}, re),
		}
		if err := c.store.Upsert(ctx, rec); err != nil {
			return err
		}
		stats.Inserted++
	case ActionOverwrite:
		rec := *local
		rec.Payload = c.entity.ApplyRemote(*local, re)
		rec.LastModified = re.LastModified
		if err := c.store.Upsert(ctx, rec); err != nil {
			return err
		}
		stats.Overwritten++
	case ActionRemove:
		if err := c.store.Remove(ctx, scope, local.LocalID); err != nil {
			return err
		}
		stats.Removed++
	case ActionDefer:
		tracker.deferAt(re.LastModified)
		stats.Deferred++
		c.log.Printf("⏸️ %s %s: %s", scope, re.ServerID, d.Reason)
	case ActionKeep:
		stats.Kept++
	}
	return nil
}
