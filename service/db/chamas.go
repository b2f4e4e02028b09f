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

// Chama is a savings group.
type Chama struct {
	ID                 uuid.UUID
	Name               string
	Description        *string
	MonthlyTarget      decimal.Decimal
	TotalContributions decimal.Decimal
	CreatedBy          uuid.UUID
	CreatedAt          time.Time
	Members            []*ChamaMember
}

type ChamaMember struct {
	ChamaID  uuid.UUID
	UserID   uuid.UUID
	Phone    string
	IsAdmin  bool
	JoinedAt time.Time
}

type ChamaContribution struct {
	ID        uuid.UUID
	ChamaID   uuid.UUID
	UserID    uuid.UUID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

type CreateChamaParams struct {
	Name          string
	Description   *string
	MonthlyTarget decimal.Decimal
	CreatedBy     uuid.UUID
}

type RecordChamaContributionParams struct {
	ChamaID uuid.UUID
	UserID  uuid.UUID
	Amount  decimal.Decimal
}

const chamaColumns = `id, name, description, monthly_target, total_contributions, created_by, created_at`

func scanChama(row pgx.Row) (*Chama, error) {
	var (
		c           Chama
		description pgtype.Text
	)
	if err := row.Scan(&c.ID, &c.Name, &description, &c.MonthlyTarget, &c.TotalContributions, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Description = stringPtrFromPgtext(description)
	return &c, nil
}

// CreateChama creates a group whose creator is its first admin member.
func (s *Store) CreateChama(ctx context.Context, params CreateChamaParams) (_ *Chama, err error) {
	defer s.observe("insert", "chamas", time.Now(), &err)

	if params.MonthlyTarget.IsNegative() {
		return nil, fmt.Errorf("monthly target must not be negative, got %s", params.MonthlyTarget)
	}

	var chama *Chama
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := scanChama(tx.QueryRow(ctx, `
			INSERT INTO chamas (id, name, description, monthly_target, created_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+chamaColumns,
			uuid.New(), params.Name, pgtextFromStringPtr(params.Description), params.MonthlyTarget, params.CreatedBy,
		))
		if err != nil {
			return fmt.Errorf("failed to create chama: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chama_members (chama_id, user_id, is_admin) VALUES ($1, $2, TRUE)`,
			c.ID, params.CreatedBy); err != nil {
			return fmt.Errorf("failed to add chama admin: %w", err)
		}
		chama = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetChama(ctx, chama.ID)
}

// GetChama returns a chama with its members. Returns ErrNotFound when the
// chama does not exist.
func (s *Store) GetChama(ctx context.Context, id uuid.UUID) (_ *Chama, err error) {
	defer s.observe("select", "chamas", time.Now(), &err)

	c, err := scanChama(s.pool.QueryRow(ctx, `SELECT `+chamaColumns+` FROM chamas WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.chama_id, m.user_id, u.phone, m.is_admin, m.joined_at
		FROM chama_members m JOIN users u ON u.id = m.user_id
		WHERE m.chama_id = $1
		ORDER BY m.joined_at, m.user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list chama members: %w", err)
	}
	defer rows.Close()

	c.Members = []*ChamaMember{}
	for rows.Next() {
		var m ChamaMember
		if err := rows.Scan(&m.ChamaID, &m.UserID, &m.Phone, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chama member: %w", err)
		}
		c.Members = append(c.Members, &m)
	}
	return c, rows.Err()
}

// JoinChama adds a member. Joining twice yields ErrDuplicate.
func (s *Store) JoinChama(ctx context.Context, chamaID, userID uuid.UUID) (_ *ChamaMember, err error) {
	defer s.observe("insert", "chama_members", time.Now(), &err)

	var m ChamaMember
	err = s.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO chama_members (chama_id, user_id) VALUES ($1, $2)
			RETURNING chama_id, user_id, is_admin, joined_at
		)
		SELECT i.chama_id, i.user_id, u.phone, i.is_admin, i.joined_at
		FROM inserted i JOIN users u ON u.id = i.user_id`,
		chamaID, userID,
	).Scan(&m.ChamaID, &m.UserID, &m.Phone, &m.IsAdmin, &m.JoinedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

// RecordChamaContribution stores a member contribution and updates the
// group total in one transaction. Non-members get ErrNotMember.
func (s *Store) RecordChamaContribution(ctx context.Context, params RecordChamaContributionParams) (_ *ChamaContribution, err error) {
	defer s.observe("insert", "chama_contributions", time.Now(), &err)

	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("contribution amount must be positive, got %s", params.Amount)
	}

	var c ChamaContribution
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var member bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM chama_members WHERE chama_id = $1 AND user_id = $2)`,
			params.ChamaID, params.UserID).Scan(&member)
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if !member {
			return ErrNotMember
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO chama_contributions (id, chama_id, user_id, amount)
			VALUES ($1, $2, $3, $4)
			RETURNING id, chama_id, user_id, amount, created_at`,
			uuid.New(), params.ChamaID, params.UserID, params.Amount,
		).Scan(&c.ID, &c.ChamaID, &c.UserID, &c.Amount, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record chama contribution: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE chamas SET total_contributions = total_contributions + $2 WHERE id = $1`,
			params.ChamaID, params.Amount)
		if err != nil {
			return fmt.Errorf("failed to update chama total: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}
