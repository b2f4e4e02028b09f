package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// FraudAlert is a stored fraud assessment of a flagged message.
type FraudAlert struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Sender       string
	Message      string
	Score        float64
	RiskLevel    string
	MatchedRules []string
	Status       string
	UserAction   string
	CreatedAt    time.Time
	ReviewedAt   *time.Time
}

type CreateFraudAlertParams struct {
	UserID       uuid.UUID
	Sender       string
	Message      string
	Score        float64
	RiskLevel    string
	MatchedRules []string
	// MessageKey identifies the delivered message. A second insert with
	// the same key for the same user returns the stored alert.
	MessageKey *string
	CreatedAt  time.Time
}

type ListFraudAlertsParams struct {
	UserID uuid.UUID
	// Since filters out older alerts when set.
	Since  *time.Time
	Limit  int32
	Offset int32
}

type UpdateFraudAlertStatusParams struct {
	ID         uuid.UUID
	Status     string
	UserAction string
}

const alertColumns = `id, user_id, sender, message, score, risk_level, matched_rules, status, user_action, created_at, reviewed_at`

func scanAlert(row pgx.Row) (*FraudAlert, error) {
	var (
		a          FraudAlert
		reviewedAt pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Sender, &a.Message, &a.Score, &a.RiskLevel, &a.MatchedRules,
		&a.Status, &a.UserAction, &a.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	a.ReviewedAt = timePtrFromPgTimestamptz(reviewedAt)
	return &a, nil
}

// CreateFraudAlert stores a pending alert. It is idempotent per
// (user, message key) so a retried ingest does not store the alert twice.
func (s *Store) CreateFraudAlert(ctx context.Context, params CreateFraudAlertParams) (_ *FraudAlert, err error) {
	defer s.observe("insert", "fraud_alerts", time.Now(), &err)

	rules := params.MatchedRules
	if rules == nil {
		rules = []string{}
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO fraud_alerts (id, user_id, sender, message, score, risk_level, matched_rules, message_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, message_key) WHERE message_key IS NOT NULL
		DO UPDATE SET message_key = EXCLUDED.message_key
		RETURNING `+alertColumns,
		uuid.New(), params.UserID, params.Sender, params.Message, params.Score, params.RiskLevel, rules,
		pgtextFromStringPtr(params.MessageKey), createdAt,
	)
	a, err := scanAlert(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create fraud alert: %w", err)
	}
	return a, nil
}

// ListFraudAlertsByUser returns a user's alerts, newest first.
func (s *Store) ListFraudAlertsByUser(ctx context.Context, params ListFraudAlertsParams) (_ []*FraudAlert, err error) {
	defer s.observe("select", "fraud_alerts", time.Now(), &err)

	limit, offset := clampPage(params.Limit, params.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM fraud_alerts
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		params.UserID, pgTimestamptzFromTimePtr(params.Since), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*FraudAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fraud alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateFraudAlertStatus records a review decision. Returns ErrNotFound
// when the alert does not exist.
func (s *Store) UpdateFraudAlertStatus(ctx context.Context, params UpdateFraudAlertStatusParams) (_ *FraudAlert, err error) {
	defer s.observe("update", "fraud_alerts", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE fraud_alerts
		SET status = $2, user_action = $3, reviewed_at = NOW()
		WHERE id = $1
		RETURNING `+alertColumns,
		params.ID, params.Status, params.UserAction,
	)
	a, err := scanAlert(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}
