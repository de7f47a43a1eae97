package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/orderdesk/backend/internal/contracts"
)

// Repository persists order records
type Repository interface {
	// List returns alive orders, newest first
	List(ctx context.Context) ([]*contracts.Order, error)
	// ListSyncable returns alive orders whose lifecycle is not terminal
	ListSyncable(ctx context.Context) ([]*contracts.Order, error)
	// Get returns an alive order or ErrNotFound
	Get(ctx context.Context, id int64) (*contracts.Order, error)
	// GetByBrokerOrderID finds the alive order owning a brokerage buy or sell order
	GetByBrokerOrderID(ctx context.Context, brokerOrderID uuid.UUID) (*contracts.Order, error)
	// Create inserts o and sets its ID and timestamps
	Create(ctx context.Context, o *contracts.Order) error
	// Update saves every mutable field of o.
	// Fails with ErrStaleOrder when the record changed since o was read.
	Update(ctx context.Context, o *contracts.Order) error
	// SoftDelete marks an alive order deleted or returns ErrNotFound
	SoftDelete(ctx context.Context, id int64, by string, at time.Time) error
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS trading;

CREATE TABLE IF NOT EXISTS trading.orders (
	id                     BIGSERIAL PRIMARY KEY,
	symbol                 VARCHAR(16)  NOT NULL,
	amount                 NUMERIC(18,4) NOT NULL CHECK (amount > 0),
	quantity               NUMERIC(18,4),
	alpaca_buy_order_id    UUID UNIQUE,
	alpaca_sell_order_id   UUID UNIQUE,
	alpaca_client_order_id VARCHAR(64),
	buy_filled_qty         NUMERIC(18,4),
	buy_filled_avg_price   NUMERIC(18,4),
	sell_filled_qty        NUMERIC(18,4),
	sell_filled_avg_price  NUMERIC(18,4),
	force_sell_at          TIMESTAMPTZ,
	target_profit_price    NUMERIC(18,4),
	stop_loss_price        NUMERIC(18,4),
	status                 VARCHAR(32)  NOT NULL DEFAULT 'new',
	error_message          TEXT,
	created_at             TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	updated_at             TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	filled_at              TIMESTAMPTZ,
	sold_at                TIMESTAMPTZ,
	deleted_at             TIMESTAMPTZ,
	deleted_by             VARCHAR(128),
	CONSTRAINT sell_after_buy CHECK (sell_filled_qty IS NULL OR buy_filled_qty IS NOT NULL),
	CONSTRAINT buy_fill_after_submit CHECK (buy_filled_qty IS NULL OR alpaca_buy_order_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_orders_deleted_at ON trading.orders (deleted_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON trading.orders (status);
`

const orderColumns = `
	id, symbol, amount, quantity,
	alpaca_buy_order_id, alpaca_sell_order_id, alpaca_client_order_id,
	buy_filled_qty, buy_filled_avg_price, sell_filled_qty, sell_filled_avg_price,
	force_sell_at, target_profit_price, stop_loss_price,
	status, error_message, created_at, updated_at, filled_at, sold_at,
	deleted_at, deleted_by`

// PGRepository stores orders in PostgreSQL
// ⭐ SSOT: 주문 데이터 저장/조회는 여기서만
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a new order repository
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// EnsureSchema creates the orders table when missing
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure orders schema: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*contracts.Order, error) {
	var o contracts.Order
	err := row.Scan(
		&o.ID, &o.Symbol, &o.Amount, &o.Quantity,
		&o.AlpacaBuyOrderID, &o.AlpacaSellOrderID, &o.AlpacaClientOrderID,
		&o.BuyFilledQty, &o.BuyFilledAvgPrice, &o.SellFilledQty, &o.SellFilledAvgPrice,
		&o.ForceSellAt, &o.TargetProfitPrice, &o.StopLossPrice,
		&o.Status, &o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.SoldAt,
		&o.DeletedAt, &o.DeletedBy,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PGRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*contracts.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*contracts.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

// List returns alive orders, newest first
func (r *PGRepository) List(ctx context.Context) ([]*contracts.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM trading.orders
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`

	return r.queryOrders(ctx, query)
}

// ListSyncable returns alive orders not yet sold or failed
func (r *PGRepository) ListSyncable(ctx context.Context) ([]*contracts.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM trading.orders
		WHERE deleted_at IS NULL
		  AND status NOT IN ($1, $2)
		ORDER BY id`

	return r.queryOrders(ctx, query, contracts.LifecycleSellFilled, contracts.LifecycleSellFailed)
}

// Get retrieves an alive order by ID
func (r *PGRepository) Get(ctx context.Context, id int64) (*contracts.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM trading.orders
		WHERE id = $1 AND deleted_at IS NULL`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return o, nil
}

// GetByBrokerOrderID finds an order by its brokerage buy or sell order id
func (r *PGRepository) GetByBrokerOrderID(ctx context.Context, brokerOrderID uuid.UUID) (*contracts.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM trading.orders
		WHERE (alpaca_buy_order_id = $1 OR alpaca_sell_order_id = $1)
		  AND deleted_at IS NULL`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, brokerOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by broker id %s: %w", brokerOrderID, err)
	}
	return o, nil
}

// Create inserts a new order
func (r *PGRepository) Create(ctx context.Context, o *contracts.Order) error {
	if o.Status == "" {
		o.Status = contracts.LifecycleNew
	}

	query := `
		INSERT INTO trading.orders (
			symbol, amount, quantity, alpaca_buy_order_id, alpaca_client_order_id,
			status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		o.Symbol, o.Amount, o.Quantity, o.AlpacaBuyOrderID, o.AlpacaClientOrderID,
		o.Status, o.ErrorMessage,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// Update saves lifecycle fields of an alive order.
// o.UpdatedAt must still match the stored row, so a writer holding a stale copy
// (another process syncing the same order) cannot overwrite a newer lifecycle state.
func (r *PGRepository) Update(ctx context.Context, o *contracts.Order) error {
	query := `
		UPDATE trading.orders SET
			quantity = $2,
			alpaca_buy_order_id = $3,
			alpaca_sell_order_id = $4,
			alpaca_client_order_id = $5,
			buy_filled_qty = $6,
			buy_filled_avg_price = $7,
			sell_filled_qty = $8,
			sell_filled_avg_price = $9,
			force_sell_at = $10,
			target_profit_price = $11,
			stop_loss_price = $12,
			status = $13,
			error_message = $14,
			filled_at = $15,
			sold_at = $16,
			updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND deleted_at IS NULL AND updated_at = $17
		RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		o.ID, o.Quantity,
		o.AlpacaBuyOrderID, o.AlpacaSellOrderID, o.AlpacaClientOrderID,
		o.BuyFilledQty, o.BuyFilledAvgPrice, o.SellFilledQty, o.SellFilledAvgPrice,
		o.ForceSellAt, o.TargetProfitPrice, o.StopLossPrice,
		o.Status, o.ErrorMessage, o.FilledAt, o.SoldAt,
		o.UpdatedAt,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrStale(ctx, o.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, err)
	}

	return nil
}

// missOrStale explains an update that matched no row
func (r *PGRepository) missOrStale(ctx context.Context, id int64) error {
	var alive bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trading.orders WHERE id = $1 AND deleted_at IS NULL)`, id,
	).Scan(&alive)
	if err != nil {
		return fmt.Errorf("failed to check order %d: %w", id, err)
	}
	if !alive {
		return ErrNotFound
	}
	return fmt.Errorf("%w: order %d", ErrStaleOrder, id)
}

// SoftDelete marks an order deleted
func (r *PGRepository) SoftDelete(ctx context.Context, id int64, by string, at time.Time) error {
	query := `
		UPDATE trading.orders
		SET deleted_at = $2, deleted_by = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, id, at, by)
	if err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
