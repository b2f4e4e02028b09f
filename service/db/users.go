package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// User is a phone-identified account.
type User struct {
	ID               uuid.UUID
	Phone            string
	Name             *string
	PhoneVerified    bool
	EmailVerified    bool
	IDVerified       bool
	BusinessVerified bool
	CreatedAt        time.Time
}

// UpdateVerificationParams sets the verification flags of a user. Nil
// fields are left unchanged.
type UpdateVerificationParams struct {
	UserID           uuid.UUID
	PhoneVerified    *bool
	EmailVerified    *bool
	IDVerified       *bool
	BusinessVerified *bool
}

const userColumns = `id, phone, name, phone_verified, email_verified, id_verified, business_verified, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		name pgtype.Text
	)
	if err := row.Scan(&u.ID, &u.Phone, &name, &u.PhoneVerified, &u.EmailVerified, &u.IDVerified, &u.BusinessVerified, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Name = stringPtrFromPgtext(name)
	return &u, nil
}

// GetOrCreateUser returns the user with phone, creating it if needed.
// An existing user's name is filled in when it was previously empty.
func (s *Store) GetOrCreateUser(ctx context.Context, phone string, name *string) (_ *User, err error) {
	defer s.observe("upsert", "users", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET name = COALESCE(users.name, EXCLUDED.name)
		RETURNING `+userColumns,
		uuid.New(), phone, pgtextFromStringPtr(name),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return u, nil
}

// GetUserByPhone returns ErrNotFound when no user has phone.
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (_ *User, err error) {
	defer s.observe("select", "users", time.Now(), &err)

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// GetUser returns ErrNotFound when no user has id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (_ *User, err error) {
	defer s.observe("select", "users", time.Now(), &err)

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// ListUsers returns users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, limit, offset int32) (_ []*User, err error) {
	defer s.observe("select", "users", time.Now(), &err)

	limit, offset = clampPage(limit, offset)
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserVerification returns ErrNotFound when the user does not exist.
func (s *Store) UpdateUserVerification(ctx context.Context, params UpdateVerificationParams) (_ *User, err error) {
	defer s.observe("update", "users", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		UPDATE users SET
			phone_verified    = COALESCE($2, phone_verified),
			email_verified    = COALESCE($3, email_verified),
			id_verified       = COALESCE($4, id_verified),
			business_verified = COALESCE($5, business_verified)
		WHERE id = $1
		RETURNING `+userColumns,
		params.UserID, params.PhoneVerified, params.EmailVerified, params.IDVerified, params.BusinessVerified,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}
