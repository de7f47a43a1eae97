package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/orderdesk/backend/internal/orders"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// OrderSyncer reconciles every open order
type OrderSyncer interface {
	SyncAll(ctx context.Context) (*orders.SyncSummary, error)
}

// OrderSyncJob reconciles open orders with the brokerage and fires due force sells
type OrderSyncJob struct {
	syncer   OrderSyncer
	schedule string
	logger   *logger.Logger
}

// NewOrderSyncJob creates a new order sync job
func NewOrderSyncJob(syncer OrderSyncer, schedule string, log *logger.Logger) *OrderSyncJob {
	if schedule == "" {
		schedule = "0 */1 * * * *" // Every minute
	}
	return &OrderSyncJob{
		syncer:   syncer,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *OrderSyncJob) Name() string {
	return "order_sync"
}

// Schedule returns the cron schedule
func (j *OrderSyncJob) Schedule() string {
	return j.schedule
}

// Run executes one sync pass.
// Per-order failures are logged by the service; only a failed listing fails the run.
func (j *OrderSyncJob) Run(ctx context.Context) error {
	summary, err := j.syncer.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("order sync failed: %w", err)
	}

	if summary.Failed > 0 {
		j.logger.WithFields(map[string]interface{}{
			"total":  summary.Total,
			"failed": summary.Failed,
		}).Warn("Some orders failed to sync")
	}

	return nil
}
