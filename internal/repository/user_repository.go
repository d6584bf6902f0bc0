package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `SELECT id, COALESCE(email, ''), created_at, updated_at FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, r.db.Rebind(query), id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `
SELECT id, COALESCE(email, ''), created_at, updated_at
FROM users WHERE email = ? ORDER BY id LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, r.db.Rebind(query), email))
}

func (r *UserRepository) Create(ctx context.Context, email string) (*models.User, error) {
	const query = `INSERT INTO users (email, created_at, updated_at) VALUES (?, ?, ?)`
	ts := now()
	var mail sql.NullString
	if email != "" {
		mail = sql.NullString{String: email, Valid: true}
	}
	id, err := r.db.InsertID(ctx, r.db, query, mail, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &models.User{ID: id, Email: email, CreatedAt: ts, UpdatedAt: ts}, nil
}

// Ensure returns the user with the given email, creating it on first use.
func (r *UserRepository) Ensure(ctx context.Context, email string) (*models.User, error) {
	user, err := r.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	return r.Create(ctx, email)
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
