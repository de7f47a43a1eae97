package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

// blockingCollaborator parks every call until release is closed
type blockingCollaborator struct {
	syncCalls   int32
	deleteCalls int32
	started     chan int64
	release     chan struct{}
	err         error
}

func newBlockingCollaborator() *blockingCollaborator {
	return &blockingCollaborator{
		started: make(chan int64, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingCollaborator) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	atomic.AddInt32(&b.syncCalls, 1)
	b.started <- id
	<-b.release
	if b.err != nil {
		return nil, b.err
	}
	return &contracts.Order{ID: id}, nil
}

func (b *blockingCollaborator) Delete(ctx context.Context, id int64) error {
	atomic.AddInt32(&b.deleteCalls, 1)
	b.started <- id
	<-b.release
	return b.err
}

// funcCollaborator returns preset errors immediately
type funcCollaborator struct {
	syncErr   error
	deleteErr error
}

func (f *funcCollaborator) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &contracts.Order{ID: id, Symbol: "AAPL"}, nil
}

func (f *funcCollaborator) Delete(ctx context.Context, id int64) error {
	return f.deleteErr
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []string
}

func (r *recordingObserver) ActionStarted(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, action)
}

func (r *recordingObserver) ActionFinished(action, outcome string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, action+":"+outcome)
}

func TestCoordinator_DuplicateSyncDispatchesOnce(t *testing.T) {
	collab := newBlockingCollaborator()
	c := NewCoordinator(collab, logger.NewNop())
	ctx := context.Background()

	done := make(chan ActionResult)
	go func() {
		res, err := c.RequestSync(ctx, 7)
		assert.NoError(t, err)
		done <- res
	}()

	<-collab.started
	assert.Equal(t, ActionSyncing, c.IsBusy(7))

	_, err := c.RequestSync(ctx, 7)
	assert.ErrorIs(t, err, ErrActionInFlight)

	close(collab.release)
	res := <-done

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&collab.syncCalls))
	assert.Equal(t, ActionNone, c.IsBusy(7))
}

func TestCoordinator_ExclusiveAcrossActionTypes(t *testing.T) {
	collab := newBlockingCollaborator()
	c := NewCoordinator(collab, logger.NewNop())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		c.RequestSync(ctx, 3)
		close(done)
	}()
	<-collab.started

	_, err := c.RequestDelete(ctx, 3)
	assert.ErrorIs(t, err, ErrActionInFlight)
	assert.Equal(t, int32(0), atomic.LoadInt32(&collab.deleteCalls))
	assert.Equal(t, ActionSyncing, c.IsBusy(3))

	close(collab.release)
	<-done
	assert.Equal(t, ActionNone, c.IsBusy(3))
}

func TestCoordinator_DifferentIDsRunConcurrently(t *testing.T) {
	collab := newBlockingCollaborator()
	c := NewCoordinator(collab, logger.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2, 3} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := c.RequestDelete(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, OutcomeSuccess, res.Outcome)
		}(id)
	}

	// All three are dispatched before any is released
	for i := 0; i < 3; i++ {
		<-collab.started
	}
	assert.Equal(t, ActionDeleting, c.IsBusy(1))
	assert.Equal(t, ActionDeleting, c.IsBusy(2))
	assert.Equal(t, ActionDeleting, c.IsBusy(3))

	close(collab.release)
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&collab.deleteCalls))
	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, ActionNone, c.IsBusy(id))
	}
}

func TestCoordinator_ConcurrentDuplicates(t *testing.T) {
	collab := newBlockingCollaborator()
	c := NewCoordinator(collab, logger.NewNop())
	ctx := context.Background()

	var accepted, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RequestSync(ctx, 42)
			if errors.Is(err, ErrActionInFlight) {
				atomic.AddInt32(&rejected, 1)
				return
			}
			atomic.AddInt32(&accepted, 1)
		}()
	}

	<-collab.started
	// Give the remaining goroutines time to hit the busy marker
	time.Sleep(50 * time.Millisecond)
	close(collab.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&collab.syncCalls))
	assert.Equal(t, int32(1), accepted)
	assert.Equal(t, int32(19), rejected)
}

func TestCoordinator_SyncClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    Outcome
		message string
		status  int
	}{
		{"success", nil, OutcomeSuccess, "Order synchronized successfully", http.StatusOK},
		{"sentinel not found", fmt.Errorf("load: %w", ErrNotFound), OutcomeNotFound, "Order not found.", http.StatusNotFound},
		{"remote 404", statusErr(404), OutcomeNotFound, "Order not found.", http.StatusNotFound},
		{"remote 500", statusErr(500), OutcomeServerError, "Internal server error during synchronization. Please try again later.", http.StatusInternalServerError},
		{"internal error", &InternalError{Op: "sync", Err: errors.New("db down")}, OutcomeServerError, "Internal server error during synchronization. Please try again later.", http.StatusInternalServerError},
		{"remote 502", statusErr(502), OutcomeUnknown, "Failed to synchronize order. Please try again.", http.StatusInternalServerError},
		{"transport error", errors.New("connection refused"), OutcomeUnknown, "Failed to synchronize order. Please try again.", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(&funcCollaborator{syncErr: tt.err}, logger.NewNop())

			res, err := c.RequestSync(context.Background(), 9)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.message, res.Message())
			assert.Equal(t, tt.status, res.HTTPStatus())
			assert.Equal(t, ActionSyncing, res.Action)
			assert.Equal(t, ActionNone, c.IsBusy(9))
			if tt.err == nil {
				require.NotNil(t, res.Order)
				assert.Equal(t, int64(9), res.Order.ID)
			}
		})
	}
}

func TestCoordinator_DeleteClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    Outcome
		message string
		status  int
	}{
		{"success", nil, OutcomeSuccess, "Order deleted successfully", http.StatusNoContent},
		{"not found", ErrNotFound, OutcomeNotFound, "Order not found.", http.StatusNotFound},
		{"remote 404", statusErr(404), OutcomeNotFound, "Order not found.", http.StatusNotFound},
		{"server error is not distinguished", statusErr(500), OutcomeUnknown, "Failed to delete order. Please try again.", http.StatusInternalServerError},
		{"transport error", errors.New("timeout"), OutcomeUnknown, "Failed to delete order. Please try again.", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(&funcCollaborator{deleteErr: tt.err}, logger.NewNop())

			res, err := c.RequestDelete(context.Background(), 4)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.message, res.Message())
			assert.Equal(t, tt.status, res.HTTPStatus())
			assert.Equal(t, ActionNone, c.IsBusy(4))
		})
	}
}

func TestCoordinator_RefreshAfterEverySettledAction(t *testing.T) {
	var refreshes int32
	collab := &funcCollaborator{}
	c := NewCoordinator(collab, logger.NewNop()).WithRefresher(func(ctx context.Context) {
		atomic.AddInt32(&refreshes, 1)
	})
	ctx := context.Background()

	_, err := c.RequestSync(ctx, 1)
	require.NoError(t, err)

	collab.syncErr = statusErr(500)
	_, err = c.RequestSync(ctx, 1)
	require.NoError(t, err)

	collab.deleteErr = ErrNotFound
	_, err = c.RequestDelete(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&refreshes))
}

func TestCoordinator_RefreshSeesIdleMarker(t *testing.T) {
	var c *Coordinator
	var busyDuringRefresh Action
	c = NewCoordinator(&funcCollaborator{}, logger.NewNop()).WithRefresher(func(ctx context.Context) {
		busyDuringRefresh = c.IsBusy(5)
	})

	_, err := c.RequestDelete(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, busyDuringRefresh)
}

func TestCoordinator_RejectedRequestDoesNotRefresh(t *testing.T) {
	var refreshes int32
	collab := newBlockingCollaborator()
	c := NewCoordinator(collab, logger.NewNop()).WithRefresher(func(ctx context.Context) {
		atomic.AddInt32(&refreshes, 1)
	})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		c.RequestSync(ctx, 8)
		close(done)
	}()
	<-collab.started

	_, err := c.RequestSync(ctx, 8)
	require.ErrorIs(t, err, ErrActionInFlight)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))

	close(collab.release)
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestCoordinator_Observer(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCoordinator(&funcCollaborator{deleteErr: statusErr(404)}, logger.NewNop()).WithObserver(obs)
	ctx := context.Background()

	c.RequestSync(ctx, 1)
	c.RequestDelete(ctx, 1)

	assert.Equal(t, []string{"syncing", "deleting"}, obs.started)
	assert.Equal(t, []string{"syncing:success", "deleting:not_found"}, obs.finished)
}

func TestCoordinator_NewActionAfterSettle(t *testing.T) {
	collab := &funcCollaborator{}
	c := NewCoordinator(collab, logger.NewNop())
	ctx := context.Background()

	res, err := c.RequestSync(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = c.RequestDelete(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, ActionDeleting, res.Action)
}

// ctxCollaborator gives up when its context is cancelled
type ctxCollaborator struct {
	started chan struct{}
	work    time.Duration
}

func (c *ctxCollaborator) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	close(c.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.work):
		return &contracts.Order{ID: id}, nil
	}
}

func (c *ctxCollaborator) Delete(ctx context.Context, id int64) error {
	_, err := c.Sync(ctx, id)
	return err
}

func TestCoordinator_CallerCancelDoesNotAbortAction(t *testing.T) {
	tests := []struct {
		name    string
		request func(c *Coordinator, ctx context.Context) (ActionResult, error)
	}{
		{"sync", func(c *Coordinator, ctx context.Context) (ActionResult, error) { return c.RequestSync(ctx, 21) }},
		{"delete", func(c *Coordinator, ctx context.Context) (ActionResult, error) { return c.RequestDelete(ctx, 21) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collab := &ctxCollaborator{started: make(chan struct{}), work: 100 * time.Millisecond}

			var refreshErr error
			refreshed := false
			c := NewCoordinator(collab, logger.NewNop()).WithRefresher(func(ctx context.Context) {
				refreshed = true
				refreshErr = ctx.Err()
			})

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-collab.started
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()

			res, err := tt.request(c, ctx)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSuccess, res.Outcome)
			assert.NoError(t, res.Err)

			assert.True(t, refreshed)
			assert.NoError(t, refreshErr)
			assert.Error(t, ctx.Err())
		})
	}
}

// panicCollaborator fails by panicking
type panicCollaborator struct{}

func (panicCollaborator) Sync(ctx context.Context, id int64) (*contracts.Order, error) {
	panic("collaborator exploded")
}

func (panicCollaborator) Delete(ctx context.Context, id int64) error {
	panic("collaborator exploded")
}

func TestCoordinator_PanicStillSettlesBookkeeping(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCoordinator(panicCollaborator{}, logger.NewNop()).WithObserver(obs)

	assert.Panics(t, func() {
		c.RequestSync(context.Background(), 31)
	})

	assert.Equal(t, ActionNone, c.IsBusy(31))
	assert.Equal(t, []string{"syncing"}, obs.started)
	assert.Equal(t, []string{"syncing:unknown"}, obs.finished)

	// The id is free for the next action
	c2 := NewCoordinator(&funcCollaborator{}, logger.NewNop()).WithActions(c.Actions())
	res, err := c2.RequestDelete(context.Background(), 31)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestActionSet_ReleaseIsIdempotent(t *testing.T) {
	set := NewActionSet()

	release, ok := set.TryAcquire(5, ActionSyncing)
	require.True(t, ok)
	assert.Equal(t, ActionSyncing, set.Busy(5))

	_, ok = set.TryAcquire(5, ActionDeleting)
	assert.False(t, ok)

	release()
	assert.Equal(t, ActionNone, set.Busy(5))

	again, ok := set.TryAcquire(5, ActionDeleting)
	require.True(t, ok)

	// A stale release must not free the new holder
	release()
	assert.Equal(t, ActionDeleting, set.Busy(5))
	again()
}
