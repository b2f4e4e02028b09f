package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable ledger entry parsed from an SMS.
type Transaction struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Direction    string // "credit", "debit" or "unknown"
	Counterparty *string
	Reference    *string // M-Pesa confirmation code
	Source       string
	Category     string
	Description  string
	RawText      string
	CreatedAt    time.Time
}

// CreateTransactionParams contains the parameters for creating a transaction.
type CreateTransactionParams struct {
	UserID       uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Direction    string
	Counterparty *string
	Reference    *string
	Source       string
	Category     string
	Description  string
	RawText      string
	// CreatedAt defaults to now when zero.
	CreatedAt time.Time
}

// ListTransactionsByUserParams contains pagination parameters.
type ListTransactionsByUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

const transactionColumns = `id, user_id, amount, currency, direction, counterparty, reference, source, category, description, raw_text, created_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t            Transaction
		counterparty pgtype.Text
		reference    pgtype.Text
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Direction, &counterparty, &reference,
		&t.Source, &t.Category, &t.Description, &t.RawText, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Counterparty = stringPtrFromPgtext(counterparty)
	t.Reference = stringPtrFromPgtext(reference)
	return &t, nil
}

// CreateTransaction inserts a ledger entry. A reference already recorded
// for the same user yields ErrDuplicate.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (_ *Transaction, err error) {
	defer s.observe("insert", "transactions", time.Now(), &err)

	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("transaction amount must be positive, got %s", params.Amount)
	}
	if params.Currency == "" {
		params.Currency = "KES"
	}
	if params.Category == "" {
		params.Category = "general"
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, amount, currency, direction, counterparty, reference, source, category, description, raw_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+transactionColumns,
		uuid.New(), params.UserID, params.Amount, params.Currency, params.Direction,
		pgtextFromStringPtr(params.Counterparty), pgtextFromStringPtr(params.Reference),
		params.Source, params.Category, params.Description, params.RawText, createdAt,
	)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// GetTransaction returns ErrNotFound when id does not exist.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (_ *Transaction, err error) {
	defer s.observe("select", "transactions", time.Now(), &err)

	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (s *Store) ListTransactionsByUser(ctx context.Context, params ListTransactionsByUserParams) (_ []*Transaction, err error) {
	defer s.observe("select", "transactions", time.Now(), &err)

	limit, offset := clampPage(params.Limit, params.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		params.UserID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := []*Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// CountTransactionsByUser returns the number of ledger entries for a user.
func (s *Store) CountTransactionsByUser(ctx context.Context, userID uuid.UUID) (_ int64, err error) {
	defer s.observe("count", "transactions", time.Now(), &err)

	var n int64
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}
