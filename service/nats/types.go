package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/trust"
)

// Event kinds, used as the second subject token.
const (
	KindTransaction = "txns"
	KindAlert       = "alerts"
	KindTrust       = "trust"
)

// PhoneToken reduces a phone number to the digits usable as a subject
// token, so "+254712345678" becomes "254712345678".
func PhoneToken(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Subject returns "tajiri.{kind}.{phone digits}".
func Subject(kind, phone string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, kind, PhoneToken(phone))
}

// SubjectFilter matches every phone for kind, or one phone when phone is
// not empty.
func SubjectFilter(kind, phone string) string {
	if phone == "" {
		return fmt.Sprintf("%s.%s.*", SubjectPrefix, kind)
	}
	return Subject(kind, phone)
}

// TransactionEvent is published to "tajiri.txns.{phone}" when a ledger
// entry is recorded.
type TransactionEvent struct {
	ID           string  `json:"id"`
	Phone        string  `json:"phone"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	Direction    string  `json:"direction"`
	Counterparty *string `json:"counterparty,omitempty"`
	Reference    *string `json:"reference,omitempty"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`

	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransaction converts a ledger entry to a TransactionEvent.
func FromDBTransaction(phone string, txn *db.Transaction) *TransactionEvent {
	return &TransactionEvent{
		ID:           txn.ID.String(),
		Phone:        phone,
		Amount:       txn.Amount.StringFixed(2),
		Currency:     txn.Currency,
		Direction:    txn.Direction,
		Counterparty: txn.Counterparty,
		Reference:    txn.Reference,
		Category:     txn.Category,
		Description:  txn.Description,
		CreatedAt:    txn.CreatedAt,
		PublishedAt:  time.Now().UTC(),
	}
}

// FraudAlertEvent is published to "tajiri.alerts.{phone}" for every
// flagged message.
type FraudAlertEvent struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Sender       string    `json:"sender,omitempty"`
	Score        float64   `json:"score"`
	RiskLevel    string    `json:"risk_level"`
	MatchedRules []string  `json:"matched_rules"`
	CreatedAt    time.Time `json:"created_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// FromDBFraudAlert converts a stored alert to a FraudAlertEvent. The
// message body is left out of the event.
func FromDBFraudAlert(phone string, a *db.FraudAlert) *FraudAlertEvent {
	return &FraudAlertEvent{
		ID:           a.ID.String(),
		Phone:        phone,
		Sender:       a.Sender,
		Score:        a.Score,
		RiskLevel:    a.RiskLevel,
		MatchedRules: a.MatchedRules,
		CreatedAt:    a.CreatedAt,
		PublishedAt:  time.Now().UTC(),
	}
}

// TrustScoreEvent is published to "tajiri.trust.{phone}" after a score
// is computed.
type TrustScoreEvent struct {
	Phone       string            `json:"phone"`
	Score       int               `json:"score"`
	Rating      string            `json:"rating"`
	Components  []trust.Component `json:"components"`
	ComputedAt  time.Time         `json:"computed_at"`
	PublishedAt time.Time         `json:"published_at"`
}

func FromTrustSnapshot(phone string, snap *db.TrustScoreSnapshot) *TrustScoreEvent {
	return &TrustScoreEvent{
		Phone:       phone,
		Score:       snap.Score,
		Rating:      snap.Rating,
		Components:  snap.Components,
		ComputedAt:  snap.ComputedAt,
		PublishedAt: time.Now().UTC(),
	}
}
