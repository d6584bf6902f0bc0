package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/database/dbtest"
)

func TestRebind(t *testing.T) {
	q := `UPDATE orders SET status = ? WHERE order_id = ? AND status = ?`
	require.Equal(t, q, database.MySQL.Rebind(q))
	require.Equal(t, q, database.SQLite.Rebind(q))
	require.Equal(t, `UPDATE orders SET status = $1 WHERE order_id = $2 AND status = $3`, database.Postgres.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	d, err := database.ParseDialect("PostgreSQL")
	require.NoError(t, err)
	require.Equal(t, database.Postgres, d)

	_, err = database.ParseDialect("oracle")
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, database.Migrate(context.Background(), db))

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'orders', 'redemption_codes', 'generated_images')`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestInsertIDAndUniqueViolation(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	id, err := db.InsertID(ctx, db, `INSERT INTO users (email, created_at, updated_at) VALUES (?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, "a@example.com")
	require.NoError(t, err)
	require.Positive(t, id)

	insertOrder := `INSERT INTO orders (order_id, user_id, amount, status, created_at, updated_at) VALUES (?, ?, '2.99', 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	_, err = db.ExecContext(ctx, insertOrder, "ORDER1", id)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insertOrder, "ORDER1", id)
	require.Error(t, err)
	require.True(t, database.IsUniqueViolation(err))
}

func TestIsUniqueViolationByDriver(t *testing.T) {
	require.True(t, database.IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	require.False(t, database.IsUniqueViolation(&mysql.MySQLError{Number: 1146}))
	require.True(t, database.IsUniqueViolation(&pq.Error{Code: "23505"}))
	require.False(t, database.IsUniqueViolation(errors.New("connection refused")))
	require.False(t, database.IsUniqueViolation(nil))
}
