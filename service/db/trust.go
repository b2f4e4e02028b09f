package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tajiricircle/tajiri/service/trust"
)

const (
	transactionWindow   = 365 * 24 * time.Hour
	savingsMonthsWindow = 6
)

// TrustScoreSnapshot is a persisted trust score computation.
type TrustScoreSnapshot struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Score      int
	Rating     string
	Components []trust.Component
	ComputedAt time.Time
}

func scanTrustScore(row pgx.Row) (*TrustScoreSnapshot, error) {
	var (
		snap TrustScoreSnapshot
		raw  []byte
	)
	if err := row.Scan(&snap.ID, &snap.UserID, &snap.Score, &snap.Rating, &raw, &snap.ComputedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &snap.Components); err != nil {
		return nil, fmt.Errorf("failed to decode trust components: %w", err)
	}
	return &snap, nil
}

// SaveTrustScore appends a snapshot. Scores are history, never updated.
func (s *Store) SaveTrustScore(ctx context.Context, userID uuid.UUID, result trust.Result) (_ *TrustScoreSnapshot, err error) {
	defer s.observe("insert", "trust_scores", time.Now(), &err)

	components := result.Components
	if components == nil {
		components = []trust.Component{}
	}
	raw, err := json.Marshal(components)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trust components: %w", err)
	}

	snap, err := scanTrustScore(s.pool.QueryRow(ctx, `
		INSERT INTO trust_scores (id, user_id, score, rating, components)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, score, rating, components, computed_at`,
		uuid.New(), userID, result.Score, result.Rating, raw,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save trust score: %w", err)
	}
	return snap, nil
}

// GetLatestTrustScore returns ErrNotFound when no score was computed yet.
func (s *Store) GetLatestTrustScore(ctx context.Context, userID uuid.UUID) (_ *TrustScoreSnapshot, err error) {
	defer s.observe("select", "trust_scores", time.Now(), &err)

	snap, err := scanTrustScore(s.pool.QueryRow(ctx, `
		SELECT id, user_id, score, rating, components, computed_at
		FROM trust_scores
		WHERE user_id = $1
		ORDER BY computed_at DESC
		LIMIT 1`, userID))
	if err != nil {
		return nil, mapError(err)
	}
	return snap, nil
}

// LoadTrustInputs aggregates everything the trust calculator reads for a
// user as of asOf. Sections without data are left nil.
func (s *Store) LoadTrustInputs(ctx context.Context, userID uuid.UUID, asOf time.Time) (_ trust.Inputs, err error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return trust.Inputs{}, err
	}

	in := trust.Inputs{
		AsOf: asOf,
		Verification: &trust.VerificationFlags{
			Phone:    user.PhoneVerified,
			Email:    user.EmailVerified,
			ID:       user.IDVerified,
			Business: user.BusinessVerified,
		},
	}
	if age := asOf.Sub(user.CreatedAt); age > 0 {
		in.AccountAge = age
	}

	if in.Transactions, err = s.transactionHistory(ctx, userID, asOf); err != nil {
		return trust.Inputs{}, err
	}
	if in.Fraud, err = s.fraudHistory(ctx, userID, asOf); err != nil {
		return trust.Inputs{}, err
	}
	if in.Savings, err = s.savingsSummary(ctx, userID, asOf); err != nil {
		return trust.Inputs{}, err
	}
	if in.Community, err = s.communityActivity(ctx, userID); err != nil {
		return trust.Inputs{}, err
	}
	return in, nil
}

func (s *Store) transactionHistory(ctx context.Context, userID uuid.UUID, asOf time.Time) (_ *trust.TransactionHistory, err error) {
	defer s.observe("select", "transactions", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT amount, created_at FROM transactions
		WHERE user_id = $1 AND created_at > $2 AND created_at <= $3
		ORDER BY created_at`,
		userID, asOf.Add(-transactionWindow), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}
	defer rows.Close()

	h := &trust.TransactionHistory{Points: []trust.TransactionPoint{}}
	for rows.Next() {
		var p trust.TransactionPoint
		if err := rows.Scan(&p.Amount, &p.At); err != nil {
			return nil, fmt.Errorf("failed to scan transaction point: %w", err)
		}
		h.Points = append(h.Points, p)
	}
	return h, rows.Err()
}

func (s *Store) fraudHistory(ctx context.Context, userID uuid.UUID, asOf time.Time) (_ *trust.FraudHistory, err error) {
	defer s.observe("select", "fraud_alerts", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `
		SELECT risk_level, status, user_action, created_at FROM fraud_alerts
		WHERE user_id = $1 AND created_at <= $2
		ORDER BY created_at`,
		userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load fraud history: %w", err)
	}
	defer rows.Close()

	h := &trust.FraudHistory{Alerts: []trust.AlertPoint{}}
	for rows.Next() {
		var p trust.AlertPoint
		if err := rows.Scan(&p.RiskLevel, &p.Status, &p.UserAction, &p.At); err != nil {
			return nil, fmt.Errorf("failed to scan alert point: %w", err)
		}
		h.Alerts = append(h.Alerts, p)
	}
	return h, rows.Err()
}

func (s *Store) savingsSummary(ctx context.Context, userID uuid.UUID, asOf time.Time) (*trust.SavingsSummary, error) {
	var (
		goals, achieved, contributions int
		total                          decimal.Decimal
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM savings_goals WHERE user_id = $1),
			(SELECT COUNT(*) FROM savings_goals WHERE user_id = $1 AND achieved),
			(SELECT COUNT(*) FROM savings_contributions WHERE user_id = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM savings_contributions WHERE user_id = $1)`,
		userID,
	).Scan(&goals, &achieved, &contributions, &total)
	if err != nil {
		return nil, fmt.Errorf("failed to load savings summary: %w", err)
	}
	if goals == 0 && contributions == 0 {
		return nil, nil
	}

	monthly, err := s.MonthlySavings(ctx, userID, asOf, savingsMonthsWindow)
	if err != nil {
		return nil, err
	}
	return &trust.SavingsSummary{
		TotalSaved:           total,
		GoalsTotal:           goals,
		GoalsAchieved:        achieved,
		MonthlyContributions: monthly,
	}, nil
}

func (s *Store) communityActivity(ctx context.Context, userID uuid.UUID) (_ *trust.CommunityActivity, err error) {
	defer s.observe("select", "chama_members", time.Now(), &err)

	var (
		a     trust.CommunityActivity
		total decimal.Decimal
	)
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chama_members WHERE user_id = $1),
			(SELECT COUNT(*) FROM chama_members WHERE user_id = $1 AND is_admin),
			(SELECT COALESCE(SUM(amount), 0) FROM chama_contributions WHERE user_id = $1),
			(SELECT COUNT(DISTINCT m.user_id)
			   FROM chama_members m
			   JOIN chama_members admin ON admin.chama_id = m.chama_id
			  WHERE admin.user_id = $1 AND admin.is_admin AND m.user_id <> $1)`,
		userID,
	).Scan(&a.ChamasJoined, &a.LeadershipRoles, &total, &a.MembersHelped)
	if err != nil {
		return nil, fmt.Errorf("failed to load community activity: %w", err)
	}
	if a.ChamasJoined == 0 {
		return nil, nil
	}
	a.TotalContributions = total
	return &a, nil
}
