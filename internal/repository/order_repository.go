package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/models"
)

// OrderRepository is the order ledger.
type OrderRepository struct {
	db *database.DB
}

func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_id, user_id, amount, status, provider, COALESCE(trade_no, ''), codes_issued, created_at, updated_at`

// Create inserts a pending order. An existing order id yields ErrDuplicateOrder.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	const query = `
INSERT INTO orders (order_id, user_id, amount, status, provider, codes_issued, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	id, err := r.db.InsertID(ctx, r.db, query,
		order.OrderID, order.UserID, order.Amount.StringFixed(2), string(models.OrderPending), order.Provider, false, ts, ts)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = id
	order.Status = models.OrderPending
	order.CodesIssued = false
	order.CreatedAt = ts
	order.UpdatedAt = ts
	return nil
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = ?`
	row := r.db.QueryRowContext(ctx, r.db.Rebind(query), orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// TransitionToPaid flips a pending order to paid. It reports false when the
// order was not pending, so concurrent deliveries settle exactly once.
func (r *OrderRepository) TransitionToPaid(ctx context.Context, orderID, tradeNo string) (bool, error) {
	const query = `
UPDATE orders
SET status = ?, trade_no = ?, updated_at = ?
WHERE order_id = ? AND status = ?`
	var trade sql.NullString
	if tradeNo != "" {
		trade = sql.NullString{String: tradeNo, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), string(models.OrderPaid), trade, now(), orderID, string(models.OrderPending))
	if err != nil {
		return false, fmt.Errorf("transition order to paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("order transition rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListPaidWithoutCodes returns paid orders whose codes were never issued.
func (r *OrderRepository) ListPaidWithoutCodes(ctx context.Context, limit int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders WHERE status = ? AND codes_issued = ?
ORDER BY id LIMIT ?`
	return r.list(ctx, query, string(models.OrderPaid), false, limit)
}

func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, limit, offset)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order list: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var status string
	if err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &o.Amount, &status, &o.Provider, &o.TradeNo, &o.CodesIssued, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	return &o, nil
}
