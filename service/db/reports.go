package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// FraudReport is a scam reported by a user, as opposed to one the scorer
// flagged.
type FraudReport struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ReportType     string
	Details        string
	ReportedNumber *string
	ReportedURL    *string
	Status         string
	CreatedAt      time.Time
}

type CreateFraudReportParams struct {
	UserID         uuid.UUID
	ReportType     string
	Details        string
	ReportedNumber *string
	ReportedURL    *string
}

type ListFraudReportsParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

const reportColumns = `id, user_id, report_type, details, reported_number, reported_url, status, created_at`

func scanReport(row pgx.Row) (*FraudReport, error) {
	var (
		rep    FraudReport
		number pgtype.Text
		url    pgtype.Text
	)
	err := row.Scan(&rep.ID, &rep.UserID, &rep.ReportType, &rep.Details, &number, &url, &rep.Status, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	rep.ReportedNumber = stringPtrFromPgtext(number)
	rep.ReportedURL = stringPtrFromPgtext(url)
	return &rep, nil
}

// CreateFraudReport stores a pending user report.
func (s *Store) CreateFraudReport(ctx context.Context, params CreateFraudReportParams) (_ *FraudReport, err error) {
	defer s.observe("insert", "fraud_reports", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO fraud_reports (id, user_id, report_type, details, reported_number, reported_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+reportColumns,
		uuid.New(), params.UserID, params.ReportType, params.Details,
		pgtextFromStringPtr(params.ReportedNumber), pgtextFromStringPtr(params.ReportedURL),
	)
	rep, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create fraud report: %w", err)
	}
	return rep, nil
}

// ListFraudReportsByUser returns a user's reports, newest first.
func (s *Store) ListFraudReportsByUser(ctx context.Context, params ListFraudReportsParams) (_ []*FraudReport, err error) {
	defer s.observe("select", "fraud_reports", time.Now(), &err)

	limit, offset := clampPage(params.Limit, params.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM fraud_reports
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		params.UserID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud reports: %w", err)
	}
	defer rows.Close()

	reports := []*FraudReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fraud report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
