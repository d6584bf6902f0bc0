package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/models"
)

const (
	codePrefix   = "AI"
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultMintAttempts = 8
)

// CodeRepository is the redemption code store.
type CodeRepository struct {
	db       *database.DB
	generate func() (string, error)
	attempts int
}

func NewCodeRepository(db *database.DB) *CodeRepository {
	return &CodeRepository{db: db, generate: GenerateCode, attempts: defaultMintAttempts}
}

// GenerateCode returns a fresh human-typeable code such as AI7K2M9QXZ.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, 0, len(codePrefix)+codeLength)
	out = append(out, codePrefix...)
	for _, b := range buf {
		// 252 is the largest multiple of 36 below 256; skipping keeps the draw uniform.
		for b >= 252 {
			var one [1]byte
			if _, err := rand.Read(one[:]); err != nil {
				return "", fmt.Errorf("read random: %w", err)
			}
			b = one[0]
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out), nil
}

type MintParams struct {
	OrderID      string
	UserID       int64
	Count        int
	UsagePerCode int
	ExpiresAt    *time.Time
}

// MintForOrder claims the paid order's issuance flag and inserts its codes in one
// transaction. A second caller for the same order gets ErrAlreadyIssued and no codes.
func (r *CodeRepository) MintForOrder(ctx context.Context, p MintParams) ([]models.RedemptionCode, error) {
	if p.OrderID == "" {
		return nil, fmt.Errorf("mint for order: empty order id")
	}
	return r.mint(ctx, p, func(tx *sql.Tx) error {
		const claim = `
UPDATE orders SET codes_issued = ?, updated_at = ?
WHERE order_id = ? AND status = ? AND codes_issued = ?`
		res, err := tx.ExecContext(ctx, r.db.Rebind(claim), true, now(), p.OrderID, string(models.OrderPaid), false)
		if err != nil {
			return fmt.Errorf("claim order issuance: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			return ErrAlreadyIssued
		}
		return nil
	})
}

// Mint inserts standalone codes that belong to no order.
func (r *CodeRepository) Mint(ctx context.Context, p MintParams) ([]models.RedemptionCode, error) {
	p.OrderID = ""
	return r.mint(ctx, p, nil)
}

func (r *CodeRepository) mint(ctx context.Context, p MintParams, before func(*sql.Tx) error) ([]models.RedemptionCode, error) {
	if p.Count <= 0 || p.UsagePerCode <= 0 {
		return nil, fmt.Errorf("mint codes: count and usage must be positive (count=%d usage=%d)", p.Count, p.UsagePerCode)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mint tx: %w", err)
	}
	defer tx.Rollback()

	if before != nil {
		if err := before(tx); err != nil {
			return nil, err
		}
	}

	created := now()
	codes := make([]models.RedemptionCode, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		code := models.RedemptionCode{
			OrderID:    p.OrderID,
			UserID:     p.UserID,
			UsageCount: p.UsagePerCode,
			CreatedAt:  created,
			ExpiresAt:  p.ExpiresAt,
		}
		if err := r.insertUnique(ctx, tx, &code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mint tx: %w", err)
	}
	return codes, nil
}

// insertUnique regenerates the code on a uniqueness conflict until it lands or attempts run out.
func (r *CodeRepository) insertUnique(ctx context.Context, tx *sql.Tx, code *models.RedemptionCode) error {
	const query = `
INSERT INTO redemption_codes (code, order_id, user_id, usage_count, used_count, created_at, expires_at)
VALUES (?, ?, ?, ?, 0, ?, ?)`

	var orderID sql.NullString
	if code.OrderID != "" {
		orderID = sql.NullString{String: code.OrderID, Valid: true}
	}
	var expires sql.NullTime
	if code.ExpiresAt != nil {
		expires = sql.NullTime{Time: code.ExpiresAt.UTC(), Valid: true}
	}

	for attempt := 0; attempt < r.attempts; attempt++ {
		value, err := r.generate()
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		args := []any{value, orderID, code.UserID, code.UsageCount, code.CreatedAt, expires}

		var id int64
		if r.db.Dialect == database.Postgres {
			// A failed statement would abort the whole postgres transaction.
			err = tx.QueryRowContext(ctx, r.db.Rebind(query)+" ON CONFLICT (code) DO NOTHING RETURNING id", args...).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
		} else {
			id, err = r.db.InsertID(ctx, tx, query, args...)
			if database.IsUniqueViolation(err) {
				continue
			}
		}
		if err != nil {
			return fmt.Errorf("insert redemption code: %w", err)
		}
		code.ID = id
		code.Code = value
		return nil
	}
	return ErrCodeCollision
}

const codeColumns = `id, code, order_id, user_id, usage_count, used_count, created_at, expires_at`

func (r *CodeRepository) GetByCode(ctx context.Context, code string) (*models.RedemptionCode, error) {
	query := `SELECT ` + codeColumns + ` FROM redemption_codes WHERE code = ?`
	return r.getOne(ctx, query, code)
}

func (r *CodeRepository) GetByID(ctx context.Context, id int64) (*models.RedemptionCode, error) {
	query := `SELECT ` + codeColumns + ` FROM redemption_codes WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// Consume adds units to used_count in a single conditional write. When the
// ceiling would be crossed nothing changes and ErrQuotaExceeded is returned.
func (r *CodeRepository) Consume(ctx context.Context, codeID int64, units int) error {
	if units <= 0 {
		return fmt.Errorf("consume code: units must be positive, got %d", units)
	}
	const query = `
UPDATE redemption_codes SET used_count = used_count + ?
WHERE id = ? AND used_count + ? <= usage_count`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), units, codeID, units)
	if err != nil {
		return fmt.Errorf("consume redemption code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume rows affected: %w", err)
	}
	if affected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// ListAvailableByOrder returns the order's codes that still have uses left, newest first.
func (r *CodeRepository) ListAvailableByOrder(ctx context.Context, orderID string, limit int) ([]models.RedemptionCode, error) {
	query := `SELECT ` + codeColumns + `
FROM redemption_codes
WHERE order_id = ? AND used_count < usage_count
ORDER BY created_at DESC, id DESC
LIMIT ?`
	return r.list(ctx, query, orderID, limit)
}

func (r *CodeRepository) List(ctx context.Context, limit, offset int) ([]models.RedemptionCode, error) {
	query := `SELECT ` + codeColumns + ` FROM redemption_codes ORDER BY id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, limit, offset)
}

func (r *CodeRepository) getOne(ctx context.Context, query string, arg any) (*models.RedemptionCode, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(query), arg)
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get redemption code: %w", err)
	}
	return c, nil
}

func (r *CodeRepository) list(ctx context.Context, query string, args ...any) ([]models.RedemptionCode, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list redemption codes: %w", err)
	}
	defer rows.Close()

	var codes []models.RedemptionCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption code: %w", err)
		}
		codes = append(codes, *c)
	}
	return codes, rows.Err()
}

func scanCode(row rowScanner) (*models.RedemptionCode, error) {
	var c models.RedemptionCode
	var orderID sql.NullString
	var expires sql.NullTime
	if err := row.Scan(&c.ID, &c.Code, &orderID, &c.UserID, &c.UsageCount, &c.UsedCount, &c.CreatedAt, &expires); err != nil {
		return nil, err
	}
	c.OrderID = orderID.String
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}
