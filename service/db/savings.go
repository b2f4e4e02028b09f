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

// DefaultGoalName and DefaultGoalTarget describe the goal created on the
// first contribution of a user who has none.
const DefaultGoalName = "General Savings"

var DefaultGoalTarget = decimal.NewFromInt(5000)

type SavingsGoal struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Name          string
	TargetAmount  decimal.Decimal
	CurrentAmount decimal.Decimal
	Achieved      bool
	Deadline      *time.Time
	CreatedAt     time.Time
}

type SavingsContribution struct {
	ID        uuid.UUID
	GoalID    uuid.UUID
	UserID    uuid.UUID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type CreateSavingsGoalParams struct {
	UserID       uuid.UUID
	Name         string
	TargetAmount decimal.Decimal
	Deadline     *time.Time
}

// ContributeParams adds Amount to GoalID, or to the user's oldest goal
// when GoalID is nil.
type ContributeParams struct {
	UserID uuid.UUID
	GoalID *uuid.UUID
	Amount decimal.Decimal
}

// ContributeResult is the goal after the contribution was applied.
type ContributeResult struct {
	Goal         *SavingsGoal
	Contribution *SavingsContribution
	// JustAchieved is true when this contribution reached the target.
	JustAchieved bool
}

const goalColumns = `id, user_id, name, target_amount, current_amount, achieved, deadline, created_at`

func scanGoal(row pgx.Row) (*SavingsGoal, error) {
	var (
		g        SavingsGoal
		deadline pgtype.Timestamptz
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.Achieved, &deadline, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Deadline = timePtrFromPgTimestamptz(deadline)
	return &g, nil
}

func (s *Store) CreateSavingsGoal(ctx context.Context, params CreateSavingsGoalParams) (_ *SavingsGoal, err error) {
	defer s.observe("insert", "savings_goals", time.Now(), &err)

	if !params.TargetAmount.IsPositive() {
		return nil, fmt.Errorf("target amount must be positive, got %s", params.TargetAmount)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO savings_goals (id, user_id, name, target_amount, deadline)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+goalColumns,
		uuid.New(), params.UserID, params.Name, params.TargetAmount, pgTimestamptzFromTimePtr(params.Deadline),
	)
	g, err := scanGoal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create savings goal: %w", err)
	}
	return g, nil
}

func (s *Store) ListSavingsGoals(ctx context.Context, userID uuid.UUID) (_ []*SavingsGoal, err error) {
	defer s.observe("select", "savings_goals", time.Now(), &err)

	rows, err := s.pool.Query(ctx, `SELECT `+goalColumns+` FROM savings_goals WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list savings goals: %w", err)
	}
	defer rows.Close()

	goals := []*SavingsGoal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan savings goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// Contribute applies a contribution inside one transaction. The goal row
// is locked with SELECT ... FOR UPDATE so concurrent contributions to the
// same goal serialize. A user without goals gets the default goal. Unknown
// users yield ErrNotFound.
func (s *Store) Contribute(ctx context.Context, params ContributeParams) (_ *ContributeResult, err error) {
	defer s.observe("contribute", "savings_goals", time.Now(), &err)

	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("contribution amount must be positive, got %s", params.Amount)
	}

	var result ContributeResult
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		goal, err := lockGoal(ctx, tx, params)
		if err != nil {
			return err
		}

		newAmount := goal.CurrentAmount.Add(params.Amount)
		achieved := newAmount.GreaterThanOrEqual(goal.TargetAmount)
		result.JustAchieved = achieved && !goal.Achieved

		updated, err := scanGoal(tx.QueryRow(ctx, `
			UPDATE savings_goals SET current_amount = $2, achieved = achieved OR $3
			WHERE id = $1
			RETURNING `+goalColumns,
			goal.ID, newAmount, achieved,
		))
		if err != nil {
			return fmt.Errorf("failed to update savings goal: %w", err)
		}
		result.Goal = updated

		var c SavingsContribution
		err = tx.QueryRow(ctx, `
			INSERT INTO savings_contributions (id, goal_id, user_id, amount)
			VALUES ($1, $2, $3, $4)
			RETURNING id, goal_id, user_id, amount, created_at`,
			uuid.New(), goal.ID, params.UserID, params.Amount,
		).Scan(&c.ID, &c.GoalID, &c.UserID, &c.Amount, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record contribution: %w", err)
		}
		result.Contribution = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func lockGoal(ctx context.Context, tx pgx.Tx, params ContributeParams) (*SavingsGoal, error) {
	if params.GoalID != nil {
		g, err := scanGoal(tx.QueryRow(ctx,
			`SELECT `+goalColumns+` FROM savings_goals WHERE id = $1 AND user_id = $2 FOR UPDATE`,
			*params.GoalID, params.UserID))
		if err != nil {
			return nil, mapError(err)
		}
		return g, nil
	}

	// The user row serializes first contributions, which would otherwise
	// each insert a default goal because there is no goal row to lock yet.
	var userID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, params.UserID).Scan(&userID)
	if err != nil {
		return nil, mapError(err)
	}

	g, err := scanGoal(tx.QueryRow(ctx,
		`SELECT `+goalColumns+` FROM savings_goals WHERE user_id = $1 ORDER BY created_at, id LIMIT 1 FOR UPDATE`,
		params.UserID))
	if err == nil {
		return g, nil
	}
	if mapError(err) != ErrNotFound {
		return nil, fmt.Errorf("failed to lock savings goal: %w", err)
	}

	g, err = scanGoal(tx.QueryRow(ctx, `
		INSERT INTO savings_goals (id, user_id, name, target_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING `+goalColumns,
		uuid.New(), params.UserID, DefaultGoalName, DefaultGoalTarget,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create default savings goal: %w", err)
	}
	return g, nil
}

// MonthlySavings returns the contribution total for each of the last n
// calendar months before asOf, oldest first. Months without
// contributions are zero.
func (s *Store) MonthlySavings(ctx context.Context, userID uuid.UUID, asOf time.Time, n int) (_ []decimal.Decimal, err error) {
	defer s.observe("select", "savings_contributions", time.Now(), &err)

	asOf = asOf.UTC()
	first := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(n - 1), 0)

	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('month', created_at AT TIME ZONE 'UTC') AS month, SUM(amount)
		FROM savings_contributions
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY month`,
		userID, first, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate savings: %w", err)
	}
	defer rows.Close()

	byMonth := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			month time.Time
			total decimal.Decimal
		)
		if err := rows.Scan(&month, &total); err != nil {
			return nil, fmt.Errorf("failed to scan savings month: %w", err)
		}
		byMonth[month.Format("2006-01")] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	months := make([]decimal.Decimal, n)
	for i := range months {
		months[i] = byMonth[first.AddDate(0, i, 0).Format("2006-01")]
	}
	return months, nil
}
