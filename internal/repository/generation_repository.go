package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/models"
)

// GenerationRepository stores the append-only generation attempt log.
type GenerationRepository struct {
	db *database.DB
}

func NewGenerationRepository(db *database.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Insert(ctx context.Context, a *models.GenerationAttempt) (int64, error) {
	const query = `
INSERT INTO generated_images (original_image_url, generated_image_url, user_id, redemption_code_id, vendor, prompt, status, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	id, err := r.db.InsertID(ctx, r.db, query,
		a.OriginalImageRef,
		nullString(a.GeneratedPayload),
		nullInt64(a.UserID),
		nullInt64(a.RedemptionCodeID),
		a.Vendor,
		nullString(a.Prompt),
		string(a.Status),
		nullString(a.ErrorMessage),
		a.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert generation attempt: %w", err)
	}
	a.ID = id
	return id, nil
}

const attemptColumns = `id, original_image_url, COALESCE(generated_image_url, ''), user_id, redemption_code_id, vendor, COALESCE(prompt, ''), status, COALESCE(error_message, ''), created_at`

// ListRecentSuccessful feeds the public gallery.
func (r *GenerationRepository) ListRecentSuccessful(ctx context.Context, limit int) ([]models.GenerationAttempt, error) {
	query := `SELECT ` + attemptColumns + `
FROM generated_images WHERE status = ?
ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.list(ctx, query, string(models.AttemptSuccess), limit)
}

func (r *GenerationRepository) ListByCode(ctx context.Context, codeID int64) ([]models.GenerationAttempt, error) {
	query := `SELECT ` + attemptColumns + `
FROM generated_images WHERE redemption_code_id = ?
ORDER BY id`
	return r.list(ctx, query, codeID)
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]models.GenerationAttempt, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list generation attempts: %w", err)
	}
	defer rows.Close()

	var out []models.GenerationAttempt
	for rows.Next() {
		var a models.GenerationAttempt
		var userID, codeID sql.NullInt64
		var status string
		if err := rows.Scan(&a.ID, &a.OriginalImageRef, &a.GeneratedPayload, &userID, &codeID, &a.Vendor, &a.Prompt, &status, &a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation attempt: %w", err)
		}
		if userID.Valid {
			a.UserID = &userID.Int64
		}
		if codeID.Valid {
			a.RedemptionCodeID = &codeID.Int64
		}
		a.Status = models.AttemptStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
