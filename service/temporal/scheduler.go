package temporal

import (
	"context"
	"time"

	natspkg "github.com/tajiricircle/tajiri/service/nats"
)

// Scheduler manages the per-user schedules that trigger
// RefreshTrustScoreWorkflow.
type Scheduler interface {
	// UpsertTrustSchedule creates the schedule or updates its interval.
	UpsertTrustSchedule(ctx context.Context, phone string, interval time.Duration) error

	// DeleteTrustSchedule stops periodic refreshes for phone.
	DeleteTrustSchedule(ctx context.Context, phone string) error
}

// TrustSchedulePrefix starts every trust refresh schedule ID.
const TrustSchedulePrefix = "trust-refresh-"

// TrustScheduleID returns the Temporal schedule ID for a phone number.
func TrustScheduleID(phone string) string {
	return TrustSchedulePrefix + natspkg.PhoneToken(phone)
}
