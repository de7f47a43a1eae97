package orders

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// Action is the in-flight administrative action for one order
type Action string

const (
	ActionNone     Action = "none"
	ActionSyncing  Action = "syncing"
	ActionDeleting Action = "deleting"
)

// Outcome classifies a settled action for the user
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeServerError Outcome = "server_error"
	OutcomeUnknown     Outcome = "unknown"
)

// Collaborator performs the remote sync and delete operations
type Collaborator interface {
	Sync(ctx context.Context, id int64) (*contracts.Order, error)
	Delete(ctx context.Context, id int64) error
}

// Refresher re-queries the order collection after an action settles
type Refresher func(ctx context.Context)

// ActionObserver is notified around every dispatched action
type ActionObserver interface {
	ActionStarted(action string)
	ActionFinished(action, outcome string, elapsed time.Duration)
}

// ActionResult is the settled result of one sync or delete
type ActionResult struct {
	OrderID int64
	Action  Action
	Outcome Outcome
	Order   *contracts.Order // refreshed record, sync success only
	Err     error            // underlying failure, never shown to the user
}

// Message is the user-facing text for the result
func (r ActionResult) Message() string {
	if r.Action == ActionDeleting {
		switch r.Outcome {
		case OutcomeSuccess:
			return "Order deleted successfully"
		case OutcomeNotFound:
			return "Order not found."
		default:
			return "Failed to delete order. Please try again."
		}
	}

	switch r.Outcome {
	case OutcomeSuccess:
		return "Order synchronized successfully"
	case OutcomeNotFound:
		return "Order not found."
	case OutcomeServerError:
		return "Internal server error during synchronization. Please try again later."
	default:
		return "Failed to synchronize order. Please try again."
	}
}

// HTTPStatus maps the outcome to a response code
func (r ActionResult) HTTPStatus() int {
	switch r.Outcome {
	case OutcomeSuccess:
		if r.Action == ActionDeleting {
			return http.StatusNoContent
		}
		return http.StatusOK
	case OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ActionSet tracks the outstanding action per order id.
// The coordinator and the service's bulk sync paths share one set.
type ActionSet struct {
	mu       sync.Mutex
	inFlight map[int64]Action
}

// NewActionSet creates an empty action set
func NewActionSet() *ActionSet {
	return &ActionSet{inFlight: make(map[int64]Action)}
}

// TryAcquire reserves id for action; ok is false when id is already busy
func (s *ActionSet) TryAcquire(id int64, action Action) (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[id]; busy {
		return nil, false
	}
	s.inFlight[id] = action

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inFlight, id)
			s.mu.Unlock()
		})
	}, true
}

// Busy returns the outstanding action for id, ActionNone when idle
func (s *ActionSet) Busy(id int64) Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action, ok := s.inFlight[id]; ok {
		return action
	}
	return ActionNone
}

// Coordinator allows at most one outstanding sync or delete per order id
// ⭐ SSOT: 주문별 진행 중 액션 상태는 여기서만 관리
type Coordinator struct {
	actions *ActionSet

	collaborator Collaborator
	refresh      Refresher
	observer     ActionObserver
	logger       *logger.Logger
}

// NewCoordinator creates a coordinator over the given collaborator
func NewCoordinator(collaborator Collaborator, log *logger.Logger) *Coordinator {
	return &Coordinator{
		actions:      NewActionSet(),
		collaborator: collaborator,
		logger:       log,
	}
}

// WithActions shares an action set with other sync paths
func (c *Coordinator) WithActions(set *ActionSet) *Coordinator {
	c.actions = set
	return c
}

// WithRefresher sets the hook called after every settled action
func (c *Coordinator) WithRefresher(fn Refresher) *Coordinator {
	c.refresh = fn
	return c
}

// WithObserver sets the metrics observer
func (c *Coordinator) WithObserver(obs ActionObserver) *Coordinator {
	c.observer = obs
	return c
}

// Actions returns the action set guarding this coordinator
func (c *Coordinator) Actions() *ActionSet {
	return c.actions
}

// IsBusy returns the outstanding action for id, ActionNone when idle
func (c *Coordinator) IsBusy(id int64) Action {
	return c.actions.Busy(id)
}

// RequestSync synchronizes one order with the brokerage.
// Returns ErrActionInFlight without dispatching when id is busy.
func (c *Coordinator) RequestSync(ctx context.Context, id int64) (ActionResult, error) {
	return c.run(ctx, id, ActionSyncing, func(ctx context.Context) (*contracts.Order, error) {
		return c.collaborator.Sync(ctx, id)
	})
}

// RequestDelete deletes one order.
// Returns ErrActionInFlight without dispatching when id is busy.
func (c *Coordinator) RequestDelete(ctx context.Context, id int64) (ActionResult, error) {
	return c.run(ctx, id, ActionDeleting, func(ctx context.Context) (*contracts.Order, error) {
		return nil, c.collaborator.Delete(ctx, id)
	})
}

// run dispatches one action and waits for it to settle.
// Once dispatched the action ignores caller cancellation and always runs to completion.
func (c *Coordinator) run(ctx context.Context, id int64, action Action, dispatch func(context.Context) (*contracts.Order, error)) (ActionResult, error) {
	log := c.logger.WithOrder(id).WithField("action", string(action))

	release, ok := c.actions.TryAcquire(id, action)
	if !ok {
		log.WithField("busy", string(c.IsBusy(id))).Warn("Action rejected: another action is in flight")
		return ActionResult{}, ErrActionInFlight
	}

	ctx = context.WithoutCancel(ctx)

	if c.observer != nil {
		c.observer.ActionStarted(string(action))
	}
	start := time.Now()

	result := func() (result ActionResult) {
		result = ActionResult{OrderID: id, Action: action, Outcome: OutcomeUnknown}
		defer func() {
			release()
			if c.observer != nil {
				c.observer.ActionFinished(string(action), string(result.Outcome), time.Since(start))
			}
		}()

		order, err := dispatch(ctx)
		result.Order = order
		result.Err = err
		if action == ActionDeleting {
			result.Outcome = classifyDelete(err)
		} else {
			result.Outcome = classifySync(err)
		}
		return result
	}()

	if result.Err != nil {
		log.WithError(result.Err).WithField("outcome", string(result.Outcome)).Warn("Order action failed")
	} else {
		log.Info("Order action completed")
	}

	if c.refresh != nil {
		c.refresh(ctx)
	}

	return result, nil
}

func classifySync(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	switch StatusOf(err) {
	case http.StatusNotFound:
		return OutcomeNotFound
	case http.StatusInternalServerError:
		return OutcomeServerError
	default:
		return OutcomeUnknown
	}
}

// classifyDelete does not distinguish server errors from unknown failures
func classifyDelete(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if StatusOf(err) == http.StatusNotFound {
		return OutcomeNotFound
	}
	return OutcomeUnknown
}
