package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
)

// ---------------------------------------------------------------------------
// Credit ledger gate.
//
// The balance read, the decrement, and the history insert all happen inside
// one database transaction holding a row lock on the user's credit row, so
// concurrent requests cannot double-spend and a crash cannot separate the
// decrement from its history row.
//
// Reservations are only taken after the expensive external work has already
// succeeded, so the row lock is held for milliseconds.
// ---------------------------------------------------------------------------

// TransactionMeta describes the chargeable action for the history row.
type TransactionMeta struct {
	ActionType  string
	Description string
}

// Reservation is a pending charge: an open transaction holding the credit
// row locked with the decrement applied but not committed. Commit writes the
// history row and commits; Release rolls everything back.
type Reservation struct {
	tx      *sql.Tx
	UserID  uuid.UUID
	Credits int
	done    bool
}

// CheckCredits verifies the balance covers required without locking or
// modifying anything. Used before any external work starts so an
// insufficient balance never triggers a generation call.
func (db *DB) CheckCredits(ctx context.Context, userID uuid.UUID, required int) error {
	var balance int
	err := db.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return pipeline.ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("failed to check credits: %w", err)
	}
	if balance < required {
		return pipeline.ErrInsufficientCredits
	}
	return nil
}

// ReserveCredits locks the user's credit row, verifies the balance, and
// applies the decrement inside a transaction it leaves open. The caller must
// Commit or Release the returned reservation.
func (db *DB) ReserveCredits(ctx context.Context, userID uuid.UUID, credits int) (*Reservation, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("invalid credit amount: %d", credits)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, pipeline.ErrInsufficientCredits
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if balance < credits {
		tx.Rollback()
		return nil, pipeline.ErrInsufficientCredits
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE credits SET balance = balance - $1, updated_at = NOW() WHERE user_id = $2`,
		credits, userID,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to decrement balance: %w", err)
	}

	return &Reservation{tx: tx, UserID: userID, Credits: credits}, nil
}

// Commit writes the transaction-history row and commits the decrement.
func (r *Reservation) Commit(ctx context.Context, meta TransactionMeta) error {
	if r.done {
		return fmt.Errorf("reservation already finalized")
	}

	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, credits, action_type, description)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), r.UserID, r.Credits, meta.ActionType, meta.Description)
	if err != nil {
		r.tx.Rollback()
		r.done = true
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	if err := r.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credit charge: %w", err)
	}
	r.done = true
	return nil
}

// Release rolls the reservation back. No-op when Commit already ran, so it
// is safe to defer unconditionally.
func (r *Reservation) Release() {
	if r == nil || r.done {
		return
	}
	r.done = true
	if err := r.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		// Nothing actionable; the transaction will be torn down with the
		// connection.
		_ = err
	}
}

// GetBalance returns the user's credit row. A user without one reads as a
// zero balance.
func (db *DB) GetBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error) {
	bal := &models.CreditBalance{UserID: userID}
	err := db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM credits WHERE user_id = $1`, userID,
	).Scan(&bal.Balance, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return bal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// GetUserTransactions lists the user's charge history, newest first.
func (db *DB) GetUserTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, credits, action_type, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.CreditTransaction
	for rows.Next() {
		var txn models.CreditTransaction
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Credits, &txn.ActionType, &txn.Description, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
