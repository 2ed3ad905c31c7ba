package sync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/taskchat-sync/internal/sync"
)

func waitTask(t *testing.T, task *sync.Task) (*sync.CycleReport, error) {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task did not finish")
	return report, err
}

func TestScenarioCreateOfflineThenSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()

	rec, task, err := h.repo.Create(ctx, teamScope, note{"hello"})
	require.NoError(t, err)
	assert.Nil(t, task, "no cycle is scheduled while offline")
	assert.Equal(t, sync.StatusPendingCreate, rec.Status)
	assert.Empty(t, rec.ServerID)
	assert.NotEmpty(t, rec.IdempotencyKey)

	report, err := h.run(t)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 1, report.Count(sync.OutcomeSucceeded))

	got := h.get(t, rec.LocalID)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, sync.StatusSynced, got.Status)
	assert.Equal(t, note{"hello"}, got.Payload)
	assert.Equal(t, rec.LastModified, got.LastModified)
}

func TestScenarioDeferPreservesPendingEdit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"hello"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)

	// local edit offline, newer than the remote version
	h.clock.Advance(time.Minute)
	h.offline()
	edited, task, err := h.repo.Update(ctx, teamScope, rec.LocalID, note{"edited"})
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Equal(t, sync.StatusPendingUpdate, edited.Status)

	// the push fails transiently, the pull then sees the older remote version
	h.remote.setFail(func(op string, _ note) error {
		if op == "update" {
			return errors.New("connection reset")
		}
		return nil
	})
	report, err := h.run(t)
	var cycleErr *sync.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, teamScope, cycleErr.Scope)
	assert.Equal(t, 1, report.Count(sync.OutcomeFailed))
	assert.Equal(t, 1, report.Pull.Deferred)
	assert.False(t, report.CursorAdvanced)

	got := h.get(t, rec.LocalID)
	assert.Equal(t, edited, got, "deferred remote version must not touch the pending edit")

	// the deferred entity is fetched again and resolved once the edit is pushed
	h.remote.setFail(nil)
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeSucceeded))
	assert.Zero(t, report.Pull.Deferred)
	assert.True(t, report.CursorAdvanced)

	got = h.get(t, rec.LocalID)
	assert.Equal(t, sync.StatusSynced, got.Status)
	assert.Equal(t, note{"edited"}, got.Payload)
}

func TestScenarioRedeliveryIsNoOp(t *testing.T) {
	h := newHarness(t)
	at := h.clock.Now().Add(-time.Hour)
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-9", LastModified: at, Payload: note{"from teammate"}})

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Inserted)

	recs, err := h.repo.List(context.Background(), teamScope)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	first := recs[0]
	assert.Equal(t, sync.StatusSynced, first.Status)
	assert.Equal(t, at, first.LastModified)
	writes := h.store.Writes()

	// the cursor is inclusive, so the same entity comes back
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Fetched)
	assert.Equal(t, 1, report.Pull.Kept)
	assert.Zero(t, report.Pull.Changed())
	assert.False(t, report.CursorAdvanced)

	assert.Equal(t, writes, h.store.Writes(), "redelivery must not write")
	assert.Equal(t, first, h.get(t, first.LocalID))
}

func TestCycleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.offline()
	_, _, err := h.repo.Create(context.Background(), teamScope, note{"a"})
	require.NoError(t, err)

	_, err = h.run(t)
	require.NoError(t, err)
	creates, updates, deletes := h.remote.calls()
	writes := h.store.Writes()

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, report.Items)
	c2, u2, d2 := h.remote.calls()
	assert.Equal(t, []int{creates, updates, deletes}, []int{c2, u2, d2})
	assert.Equal(t, writes, h.store.Writes())
}

func TestCreateRetryAfterLostAckMapsToSameEntity(t *testing.T) {
	h := newHarness(t)
	h.offline()
	rec, _, err := h.repo.Create(context.Background(), teamScope, note{"a"})
	require.NoError(t, err)

	// an earlier attempt reached the remote store but its response was lost
	id, err := h.remote.Create(context.Background(), teamScope, rec.IdempotencyKey, rec.Payload)
	require.NoError(t, err)

	_, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, id, h.get(t, rec.LocalID).ServerID)
	assert.Equal(t, 1, h.remote.size())
}

func TestEditsCoalesceIntoOnePendingStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()

	rec, _, err := h.repo.Create(ctx, teamScope, note{"v1"})
	require.NoError(t, err)
	upd, _, err := h.repo.Update(ctx, teamScope, rec.LocalID, note{"v2"})
	require.NoError(t, err)
	assert.Equal(t, sync.StatusPendingCreate, upd.Status, "an unpushed record stays a create")
	assert.True(t, upd.LastModified.After(rec.LastModified))

	_, err = h.run(t)
	require.NoError(t, err)
	creates, updates, _ := h.remote.calls()
	assert.Equal(t, 1, creates)
	assert.Zero(t, updates)

	h.offline()
	_, _, err = h.repo.Update(ctx, teamScope, rec.LocalID, note{"v3"})
	require.NoError(t, err)
	upd, _, err = h.repo.Update(ctx, teamScope, rec.LocalID, note{"v4"})
	require.NoError(t, err)
	assert.Equal(t, sync.StatusPendingUpdate, upd.Status)

	_, err = h.run(t)
	require.NoError(t, err)
	_, updates, _ = h.remote.calls()
	assert.Equal(t, 1, updates, "two edits are pushed as one update")
}

func TestCreateThenDeleteBeforeSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()

	rec, _, err := h.repo.Create(ctx, teamScope, note{"draft"})
	require.NoError(t, err)
	task, err := h.repo.Delete(ctx, teamScope, rec.LocalID)
	require.NoError(t, err)
	assert.Nil(t, task)

	_, err = h.repo.Get(ctx, teamScope, rec.LocalID)
	assert.True(t, sync.IsNotFound(err))

	_, err = h.run(t)
	require.NoError(t, err)
	creates, updates, deletes := h.remote.calls()
	assert.Zero(t, creates+updates+deletes, "nothing may reach the remote store")
}

func TestDeleteSyncedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	h.offline()
	_, err = h.repo.Delete(ctx, teamScope, rec.LocalID)
	require.NoError(t, err)

	tomb := h.get(t, rec.LocalID)
	assert.Equal(t, sync.StatusPendingDelete, tomb.Status)
	visible, err := h.repo.List(ctx, teamScope)
	require.NoError(t, err)
	assert.Empty(t, visible, "tombstones are hidden")

	_, _, err = h.repo.Update(ctx, teamScope, rec.LocalID, note{"b"})
	assert.ErrorIs(t, err, sync.ErrDeleted)
	_, err = h.repo.Delete(ctx, teamScope, rec.LocalID)
	assert.ErrorIs(t, err, sync.ErrDeleted)

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeSucceeded))
	_, _, deletes := h.remote.calls()
	assert.Equal(t, 1, deletes)

	_, err = h.repo.Get(ctx, teamScope, rec.LocalID)
	assert.ErrorIs(t, err, sync.ErrNotFound)
}

func TestLastWriterWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"mine"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)

	base := h.clock.Now()
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-1", LastModified: base.Add(time.Hour), Payload: note{"theirs"}})
	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Overwritten)

	got := h.get(t, rec.LocalID)
	assert.Equal(t, note{"theirs"}, got.Payload)
	assert.Equal(t, base.Add(time.Hour), got.LastModified)
	assert.Equal(t, sync.StatusSynced, got.Status)

	// a stale version delivered late loses
	h.remote.setExtra(sync.RemoteEntity[note]{ServerID: "srv-1", LastModified: base.Add(30 * time.Minute), Payload: note{"stale"}})
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Zero(t, report.Pull.Overwritten)
	assert.Equal(t, note{"theirs"}, h.get(t, rec.LocalID).Payload)
}

func TestRemoteDeleteRemovesSyncedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)

	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-1", LastModified: h.clock.Now().Add(time.Minute), Deleted: true})
	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Removed)

	_, err = h.repo.Get(ctx, teamScope, rec.LocalID)
	assert.ErrorIs(t, err, sync.ErrNotFound)
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := h.clock.Now()
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-7", LastModified: base, Payload: note{"x"}})

	_, err := h.run(t)
	require.NoError(t, err)
	c1, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)
	assert.Equal(t, base, c1.LastPullTimestamp)

	// an entity older than the cursor shows up late
	h.remote.setExtra(sync.RemoteEntity[note]{ServerID: "srv-8", LastModified: base.Add(-time.Hour), Payload: note{"late"}})
	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Inserted)

	c2, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)
	assert.False(t, c2.Before(c1))
}

func TestRemoteTimestampsAreTruncated(t *testing.T) {
	h := newHarness(t)
	at := h.clock.Now().Add(123456789 * time.Nanosecond)
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-3", LastModified: at, Payload: note{"x"}})

	_, err := h.run(t)
	require.NoError(t, err)
	recs, err := h.repo.List(context.Background(), teamScope)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, at.Truncate(time.Microsecond), recs[0].LastModified)
}

func TestRejectionBacksOffThenDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{""})
	require.NoError(t, err)

	h.remote.setFail(func(op string, p note) error {
		if op == "create" && p.Title == "" {
			return &sync.RejectionError{StatusCode: 422, Message: "title required"}
		}
		return nil
	})

	report, err := h.run(t)
	assert.True(t, sync.IsRejection(err))
	assert.Equal(t, 1, report.Count(sync.OutcomeRejected))
	got := h.get(t, rec.LocalID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, h.clock.Now().Add(time.Minute), got.NextAttemptAt)
	assert.Equal(t, sync.StatusPendingCreate, got.Status)

	// inside the backoff window the record is not sent
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeSkipped))
	creates, _, _ := h.remote.calls()
	assert.Equal(t, 1, creates)

	h.clock.Advance(time.Minute)
	report, err = h.run(t)
	require.Error(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeRejected))
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), h.get(t, rec.LocalID).NextAttemptAt)

	h.clock.Advance(2 * time.Minute)
	report, err = h.run(t)
	require.Error(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeDeadLettered))
	assert.True(t, h.get(t, rec.LocalID).DeadLettered())

	// dead letters are no longer pushed but still reported
	h.clock.Advance(time.Hour)
	report, err = h.run(t)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, sync.OutcomeParked, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Error, "title required")
	assert.Equal(t, 1, report.Outstanding())
	assert.False(t, report.Succeeded())
	creates, _, _ = h.remote.calls()
	assert.Equal(t, 3, creates)

	dls, err := h.coord.DeadLetters(ctx, teamScope)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, rec.LocalID, dls[0].LocalID)
	assert.Equal(t, 3, dls[0].Attempts)
	assert.Contains(t, dls[0].LastError, "title required")

	// requeue after the remote store is fixed
	h.remote.setFail(nil)
	require.NoError(t, h.coord.Requeue(ctx, teamScope, rec.LocalID))
	_, err = h.run(t)
	require.NoError(t, err)
	got = h.get(t, rec.LocalID)
	assert.Equal(t, sync.StatusSynced, got.Status)
	assert.Zero(t, got.Attempts)
	assert.False(t, got.DeadLettered())

	assert.ErrorIs(t, h.coord.Requeue(ctx, teamScope, rec.LocalID), sync.ErrNotPending, "synced records cannot be requeued")
	assert.ErrorIs(t, h.coord.Requeue(ctx, teamScope, "missing"), sync.ErrNotFound)
}

func TestEditResetsRetryBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{""})
	require.NoError(t, err)

	h.remote.setFail(func(op string, p note) error {
		if op == "create" && p.Title == "" {
			return sync.Reject("title required")
		}
		return nil
	})
	_, err = h.run(t)
	require.Error(t, err)
	assert.Equal(t, 1, h.get(t, rec.LocalID).Attempts)

	h.offline()
	fixed, _, err := h.repo.Update(ctx, teamScope, rec.LocalID, note{"now with title"})
	require.NoError(t, err)
	assert.Zero(t, fixed.Attempts)
	assert.True(t, fixed.NextAttemptAt.IsZero())

	_, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, sync.StatusSynced, h.get(t, rec.LocalID).Status)
}

func TestTransientFailureLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t)
	h.offline()
	rec, _, err := h.repo.Create(context.Background(), teamScope, note{"a"})
	require.NoError(t, err)

	h.remote.setFail(func(op string, _ note) error {
		if op == "create" {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	report, err := h.run(t)
	require.Error(t, err)
	assert.False(t, sync.IsRejection(err))
	assert.Equal(t, 1, report.Count(sync.OutcomeFailed))
	assert.True(t, report.Completed, "an item failure does not stop the pull")
	assert.Equal(t, rec, h.get(t, rec.LocalID))

	h.remote.setFail(nil)
	_, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, sync.StatusSynced, h.get(t, rec.LocalID).Status)
}

func TestOfflineCycleTouchesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	_, _, err := h.repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)
	writes := h.store.Writes()

	report, err := h.coord.Run(ctx, teamScope)
	assert.ErrorIs(t, err, sync.ErrOffline)
	require.NotNil(t, report)
	assert.True(t, report.Offline)
	assert.False(t, report.Completed)

	assert.Equal(t, writes, h.store.Writes())
	creates, updates, deletes := h.remote.calls()
	assert.Zero(t, creates+updates+deletes)
	assert.Zero(t, h.remote.lists)
}

func TestMutationTriggersBackgroundCycle(t *testing.T) {
	var reports []*sync.CycleReport
	done := make(chan struct{}, 1)
	h := newHarness(t, func(o *sync.Options) {
		o.OnReport = func(r *sync.CycleReport) {
			reports = append(reports, r)
			done <- struct{}{}
		}
	})

	rec, task, err := h.repo.Create(context.Background(), teamScope, note{"online"})
	require.NoError(t, err)
	report, err := waitTask(t, task)
	require.NoError(t, err)
	<-done

	assert.Equal(t, 1, report.Count(sync.OutcomeSucceeded))
	assert.Equal(t, sync.StatusSynced, h.get(t, rec.LocalID).Status)
	assert.Same(t, report, h.coord.LastReport(teamScope))
	require.Len(t, reports, 1)
	assert.Same(t, report, reports[0])
}

func TestEditDuringInFlightCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"v1"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.setOnCreate(func(ctx context.Context, _ note) error {
		close(entered)
		<-release
		return nil
	})

	h.online.set(true)
	first := h.coord.Trigger(teamScope)
	<-entered

	// offline again so the edit does not queue a follow-up cycle
	h.offline()
	edited, followUp, err := h.repo.Update(ctx, teamScope, rec.LocalID, note{"v2"})
	require.NoError(t, err)
	assert.Nil(t, followUp)
	close(release)

	report, err := waitTask(t, first)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "srv-1", report.Items[0].ServerID)

	got := h.get(t, rec.LocalID)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, sync.StatusPendingUpdate, got.Status, "the edit made during the call must still be pushed")
	assert.Equal(t, edited.LastModified, got.LastModified)
	assert.Equal(t, note{"v2"}, got.Payload)

	_, err = h.run(t)
	require.NoError(t, err)
	got = h.get(t, rec.LocalID)
	assert.Equal(t, sync.StatusSynced, got.Status)
	_, updates, _ := h.remote.calls()
	assert.Equal(t, 1, updates)
}

func TestDeleteDuringInFlightCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"v1"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.setOnCreate(func(ctx context.Context, _ note) error {
		close(entered)
		<-release
		return nil
	})

	h.online.set(true)
	first := h.coord.Trigger(teamScope)
	<-entered
	task, err := h.repo.Delete(ctx, teamScope, rec.LocalID)
	require.NoError(t, err)
	assert.Nil(t, task, "the record had no server id yet")
	close(release)

	_, err = waitTask(t, first)
	require.NoError(t, err)

	// the acknowledged create comes back as a tombstone so the remote copy is deleted
	tomb := h.get(t, rec.LocalID)
	assert.Equal(t, sync.StatusPendingDelete, tomb.Status)
	assert.Equal(t, "srv-1", tomb.ServerID)

	h.remote.setOnCreate(nil)
	_, err = h.run(t)
	require.NoError(t, err)
	_, _, deletes := h.remote.calls()
	assert.Equal(t, 1, deletes)
	_, err = h.repo.Get(ctx, teamScope, rec.LocalID)
	assert.ErrorIs(t, err, sync.ErrNotFound)
}

func TestCancelKeepsCommittedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	a, _, err := h.repo.Create(ctx, teamScope, note{"first"})
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	b, _, err := h.repo.Create(ctx, teamScope, note{"second"})
	require.NoError(t, err)
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-x", LastModified: h.clock.Now(), Payload: note{"remote"}})

	entered := make(chan struct{})
	h.remote.setOnCreate(func(ctx context.Context, p note) error {
		if p.Title != "second" {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})

	h.online.set(true)
	task := h.coord.Trigger(teamScope)
	<-entered
	task.Cancel()

	report, err := waitTask(t, task)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.False(t, report.Completed)
	assert.False(t, report.CursorAdvanced)

	assert.Equal(t, sync.StatusSynced, h.get(t, a.LocalID).Status, "committed items stay committed")
	assert.Equal(t, b, h.get(t, b.LocalID), "unprocessed items stay pending")
	cursor, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}

func TestStoreFailureIsScopedToItem(t *testing.T) {
	h := newHarness(t)
	base := h.clock.Now()
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-1", LastModified: base, Payload: note{"good"}})
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-2", LastModified: base.Add(time.Second), Payload: note{"bad"}})

	h.store.FailUpsert = func(rec sync.Record[note]) error {
		if rec.Payload.Title == "bad" {
			return errors.New("disk full")
		}
		return nil
	}
	report, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, 1, report.Pull.Inserted)
	assert.Equal(t, 1, report.Pull.Errors)
	assert.NotEmpty(t, report.PullError)
	assert.False(t, report.CursorAdvanced, "a failed apply blocks the cursor")

	h.store.FailUpsert = nil
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pull.Inserted)
	assert.Equal(t, 1, report.Pull.Kept)
	assert.True(t, report.CursorAdvanced)
}

func TestPullFailureKeepsCursor(t *testing.T) {
	h := newHarness(t)
	h.remote.setFail(func(op string, _ note) error {
		if op == "list" {
			return errors.New("timeout")
		}
		return nil
	})
	report, err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, report.PullError, "timeout")
	assert.False(t, report.CursorAdvanced)
}

func TestClosedCoordinator(t *testing.T) {
	h := newHarness(t)
	h.coord.Close()

	_, err := waitTask(t, h.coord.Trigger(teamScope))
	assert.ErrorIs(t, err, sync.ErrClosed)
}

func TestBackingOffRecordIsOutstanding(t *testing.T) {
	h := newHarness(t)
	h.offline()
	_, _, err := h.repo.Create(context.Background(), teamScope, note{""})
	require.NoError(t, err)
	h.remote.setFail(func(op string, p note) error {
		if op == "create" {
			return sync.Reject("title required")
		}
		return nil
	})
	_, err = h.run(t)
	require.Error(t, err)

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outstanding())
	assert.False(t, report.Succeeded(), "a cycle that leaves records waiting is not a success")
}

func TestPullFollowsPages(t *testing.T) {
	h := newHarness(t)
	h.remote.setPageSize(2)
	base := h.clock.Now()
	for i := 1; i <= 5; i++ {
		h.remote.put(sync.RemoteEntity[note]{
			ServerID: fmt.Sprintf("srv-%d", i), LastModified: base.Add(time.Duration(i) * time.Second), Payload: note{"remote"},
		})
	}

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Pull.Inserted)
	assert.Greater(t, report.Pull.Pages, 1)
	assert.True(t, base.Add(5*time.Second).Equal(report.CursorAfter.LastPullTimestamp))

	all, err := h.repo.List(context.Background(), teamScope)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDeadLetterDoesNotStallPagedPull(t *testing.T) {
	h := newHarness(t, func(o *sync.Options) { o.Retry.MaxAttempts = 1 })
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"v1"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)

	// another client edits srv-1 and writes five more entities
	h.remote.setPageSize(2)
	base := h.clock.Now()
	h.remote.put(sync.RemoteEntity[note]{ServerID: "srv-1", LastModified: base.Add(time.Second), Payload: note{"theirs"}})
	for i := 2; i <= 6; i++ {
		h.remote.put(sync.RemoteEntity[note]{
			ServerID: fmt.Sprintf("srv-%d", i), LastModified: base.Add(time.Duration(i) * time.Second), Payload: note{"remote"},
		})
	}

	h.clock.Advance(10 * time.Second)
	h.offline()
	_, _, err = h.repo.Update(ctx, teamScope, rec.LocalID, note{"mine"})
	require.NoError(t, err)
	h.remote.setFail(func(op string, _ note) error {
		if op == "update" {
			return sync.Reject("locked")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		report, _ := h.run(t)
		assert.Empty(t, report.PullError)
		assert.Equal(t, 1, report.Pull.Deferred)

		all, err := h.repo.List(ctx, teamScope)
		require.NoError(t, err)
		assert.Len(t, all, 6, "entities after the deferred one still arrive")
	}
	assert.True(t, h.get(t, rec.LocalID).DeadLettered())
	assert.Equal(t, note{"mine"}, h.get(t, rec.LocalID).Payload)

	// the dead letter keeps the cursor at its remote version
	cursor, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)
	assert.True(t, base.Add(time.Second).Equal(cursor.LastPullTimestamp))
}

func TestPagedPullKeepsProgressOnListFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.setPageSize(2)
	base := h.clock.Now()
	for i := 1; i <= 5; i++ {
		h.remote.put(sync.RemoteEntity[note]{
			ServerID: fmt.Sprintf("srv-%d", i), LastModified: base.Add(time.Duration(i) * time.Second), Payload: note{"remote"},
		})
	}
	lists := 0
	h.remote.setFail(func(op string, _ note) error {
		if op != "list" {
			return nil
		}
		lists++
		if lists == 2 {
			return errors.New("502 bad gateway")
		}
		return nil
	})

	report, err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, report.PullError, "bad gateway")
	assert.Equal(t, 2, report.Pull.Inserted)
	assert.True(t, report.CursorAdvanced, "merged pages are kept")
	assert.True(t, base.Add(2*time.Second).Equal(report.CursorAfter.LastPullTimestamp))

	h.remote.setFail(nil)
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pull.Inserted)
	assert.True(t, base.Add(5*time.Second).Equal(report.CursorAfter.LastPullTimestamp))
}

func TestCallTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, func(o *sync.Options) { o.CallTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	h.offline()
	a, _, err := h.repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)
	_, err = h.run(t)
	require.NoError(t, err)
	before, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	h.offline()
	a, _, err = h.repo.Update(ctx, teamScope, a.LocalID, note{"a2"})
	require.NoError(t, err)
	b, _, err := h.repo.Create(ctx, teamScope, note{"b"})
	require.NoError(t, err)

	h.remote.setStall("create", "update", "list")
	report, err := h.run(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sync.IsRejection(err))
	assert.True(t, report.Completed)
	assert.Equal(t, 2, report.Count(sync.OutcomeFailed))
	assert.NotEmpty(t, report.PullError)
	assert.False(t, report.CursorAdvanced)

	gotA := h.get(t, a.LocalID)
	assert.Equal(t, sync.StatusPendingUpdate, gotA.Status)
	assert.Equal(t, "srv-1", gotA.ServerID)
	assert.Equal(t, a.LastModified, gotA.LastModified)
	assert.Zero(t, gotA.Attempts)
	assert.True(t, gotA.NextAttemptAt.IsZero())

	gotB := h.get(t, b.LocalID)
	assert.Equal(t, sync.StatusPendingCreate, gotB.Status)
	assert.Empty(t, gotB.ServerID)
	assert.Equal(t, b.LastModified, gotB.LastModified)
	assert.Zero(t, gotB.Attempts)

	after, err := h.coord.Cursor(ctx, teamScope)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	h.remote.setStall()
	_, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, sync.StatusSynced, h.get(t, a.LocalID).Status)
	assert.Equal(t, sync.StatusSynced, h.get(t, b.LocalID).Status)
}

func TestLostCreateAckDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)

	h.remote.setDropAck(true)
	_, err = h.run(t)
	require.Error(t, err)

	h.remote.setDropAck(false)
	_, err = h.run(t)
	require.NoError(t, err)

	all, err := h.repo.List(ctx, teamScope)
	require.NoError(t, err)
	require.Len(t, all, 1, "the pulled copy is merged into the acknowledged record")
	assert.Equal(t, rec.LocalID, all[0].LocalID)
	assert.Equal(t, "srv-1", all[0].ServerID)
	assert.Equal(t, 1, h.remote.size())
}

func TestDeleteAfterLostCreateAckIsLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.offline()
	rec, _, err := h.repo.Create(ctx, teamScope, note{"draft"})
	require.NoError(t, err)

	// the remote store creates the entity but the response never arrives
	h.remote.setDropAck(true)
	report, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, 1, report.Count(sync.OutcomeFailed))
	assert.Equal(t, 1, h.remote.size())

	// without a server id the delete stays local
	h.remote.setDropAck(false)
	task, err := h.repo.Delete(ctx, teamScope, rec.LocalID)
	require.NoError(t, err)
	assert.Nil(t, task)
	_, err = h.repo.Get(ctx, teamScope, rec.LocalID)
	assert.ErrorIs(t, err, sync.ErrNotFound)

	_, err = h.run(t)
	require.NoError(t, err)
	_, _, deletes := h.remote.calls()
	assert.Zero(t, deletes)

	// the remote copy is visible as a pulled record
	all, err := h.repo.List(ctx, teamScope)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "srv-1", all[0].ServerID)
	assert.Equal(t, sync.StatusSynced, all[0].Status)
}

func TestLocalRepositoryNeverTriggers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repo := sync.NewLocalRepository(h.coord)

	rec, task, err := repo.Create(ctx, teamScope, note{"a"})
	require.NoError(t, err)
	assert.Nil(t, task)
	_, task, err = repo.Update(ctx, teamScope, rec.LocalID, note{"b"})
	require.NoError(t, err)
	assert.Nil(t, task)

	assert.False(t, h.coord.InFlight(teamScope))
	creates, updates, _ := h.remote.calls()
	assert.Zero(t, creates+updates)
	assert.Equal(t, sync.StatusPendingCreate, h.get(t, rec.LocalID).Status)
}
