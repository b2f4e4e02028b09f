// Package pipeline turns delivered SMS notifications into ledger entries,
// fraud alerts and trust scores.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/fraud"
	"github.com/tajiricircle/tajiri/service/metrics"
	"github.com/tajiricircle/tajiri/service/nats"
	"github.com/tajiricircle/tajiri/service/sms"
	"github.com/tajiricircle/tajiri/service/trust"
)

// ErrInvalidMessage wraps every input validation failure. Retrying does
// not help.
var ErrInvalidMessage = errors.New("invalid message")

// Status is the result of ingesting one message.
type Status string

const (
	StatusRecorded       Status = "recorded"
	StatusBlocked        Status = "blocked"
	StatusNotTransaction Status = "not_transaction"
	StatusDuplicate      Status = "duplicate"
)

var (
	saveThreshold   = decimal.NewFromInt(500)
	saveRateHigh    = decimal.RequireFromString("0.10")
	saveRateDefault = decimal.RequireFromString("0.05")
)

// Store is the persistence the pipeline needs. *db.Store implements it.
type Store interface {
	GetOrCreateUser(ctx context.Context, phone string, name *string) (*db.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*db.User, error)
	CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, error)
	CreateFraudAlert(ctx context.Context, params db.CreateFraudAlertParams) (*db.FraudAlert, error)
	LoadTrustInputs(ctx context.Context, userID uuid.UUID, asOf time.Time) (trust.Inputs, error)
	SaveTrustScore(ctx context.Context, userID uuid.UUID, result trust.Result) (*db.TrustScoreSnapshot, error)
}

// Message is one SMS delivered for a phone owner.
type Message struct {
	Phone      string    `json:"phone"`
	Name       string    `json:"name,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Outcome describes what ingesting a message did.
type Outcome struct {
	Status        Status           `json:"status"`
	Phone         string           `json:"phone"`
	UserID        uuid.UUID        `json:"user_id,omitempty"`
	Parsed        sms.Result       `json:"parsed"`
	Assessment    fraud.Assessment `json:"assessment"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty"`
	AlertID       *uuid.UUID       `json:"alert_id,omitempty"`
	// SuggestedSave is set for recorded credits and debits.
	SuggestedSave *decimal.Decimal `json:"suggested_save,omitempty"`
}

// Analysis is the side-effect free view of a message.
type Analysis struct {
	Parsed     sms.Result       `json:"parsed"`
	Assessment fraud.Assessment `json:"assessment"`
}

// TrustScore is a computed and saved trust score.
type TrustScore struct {
	Phone      string            `json:"phone"`
	Score      int               `json:"score"`
	Rating     string            `json:"rating"`
	Components []trust.Component `json:"components"`
	ComputedAt time.Time         `json:"computed_at"`
}

// Pipeline wires the parser, the scorer and the calculator to storage.
type Pipeline struct {
	store      Store
	parser     *sms.Parser
	scorer     *fraud.Scorer
	calculator *trust.Calculator
	publisher  nats.Publisher
	dedup      Deduper
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithPublisher publishes events after each write. Publishing is best effort.
func WithPublisher(p nats.Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithDeduper drops messages already seen.
func WithDeduper(d Deduper) Option {
	return func(pl *Pipeline) { pl.dedup = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

func New(store Store, parser *sms.Parser, scorer *fraud.Scorer, calculator *trust.Calculator, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		parser:     parser,
		scorer:     scorer,
		calculator: calculator,
		logger:     logger,
		now:        time.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze parses and scores text without touching storage.
func (p *Pipeline) Analyze(text, sender string) Analysis {
	return Analysis{
		Parsed:     p.parser.Parse(text),
		Assessment: p.scorer.Score(text, sender),
	}
}

// ProcessSMS ingests one message. Scam messages produce an alert and are
// never written to the ledger. A message that fails after passing the
// dedup guard releases its key, so retrying it is safe.
func (p *Pipeline) ProcessSMS(ctx context.Context, msg Message) (_ *Outcome, err error) {
	phone, err := NormalizePhone(msg.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidMessage)
	}

	out := &Outcome{Phone: phone}
	key := MessageKey(phone, msg.Sender, text)

	if p.dedup != nil {
		seen, derr := p.dedup.Seen(ctx, key)
		if derr != nil {
			p.logger.WarnContext(ctx, "dedup check failed, continuing", "phone", phone, "error", derr)
		} else if !seen {
			defer p.releaseOnError(ctx, key, &err)
		} else {
			out.Status = StatusDuplicate
			p.metrics.RecordSMSDuplicate("redelivery")
			p.metrics.RecordSMSOutcome(string(out.Status))
			return out, nil
		}
	}

	out.Assessment = p.scorer.Score(text, msg.Sender)
	out.Parsed = p.parser.Parse(text)
	p.metrics.RecordFraudAssessment(string(out.Assessment.RiskLevel), out.Assessment.Score, p.scorer.IsTrustedSender(msg.Sender))

	var name *string
	if n := strings.TrimSpace(msg.Name); n != "" {
		name = &n
	}
	user, err := p.store.GetOrCreateUser(ctx, phone, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	out.UserID = user.ID

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now().UTC()
	}

	if out.Assessment.Flagged {
		alert, err := p.store.CreateFraudAlert(ctx, db.CreateFraudAlertParams{
			UserID:       user.ID,
			Sender:       msg.Sender,
			Message:      text,
			Score:        out.Assessment.Score,
			RiskLevel:    string(out.Assessment.RiskLevel),
			MatchedRules: out.Assessment.MatchedRules,
			MessageKey:   &key,
			CreatedAt:    receivedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store fraud alert: %w", err)
		}
		out.AlertID = &alert.ID
		p.publishAlert(ctx, phone, alert)
	}

	if out.Assessment.RiskLevel == fraud.RiskScam {
		out.Status = StatusBlocked
		p.metrics.RecordSMSOutcome(string(out.Status))
		p.logger.InfoContext(ctx, "blocked scam message",
			"phone", phone,
			"score", out.Assessment.Score,
			"rules", out.Assessment.MatchedRules,
		)
		return out, nil
	}

	if !out.Parsed.IsTransaction() {
		out.Status = StatusNotTransaction
		p.metrics.RecordSMSParsed("no_amount", string(out.Parsed.Direction))
		p.metrics.RecordSMSOutcome(string(out.Status))
		return out, nil
	}
	p.metrics.RecordSMSParsed("ok", string(out.Parsed.Direction))

	txn, err := p.store.CreateTransaction(ctx, db.CreateTransactionParams{
		UserID:       user.ID,
		Amount:       *out.Parsed.Amount,
		Currency:     out.Parsed.Currency,
		Direction:    string(out.Parsed.Direction),
		Counterparty: out.Parsed.Counterparty,
		Reference:    out.Parsed.Reference,
		Source:       out.Parsed.Source,
		Category:     string(out.Parsed.Category),
		Description:  out.Parsed.Description,
		RawText:      text,
		CreatedAt:    receivedAt,
	})
	if errors.Is(err, db.ErrDuplicate) {
		out.Status = StatusDuplicate
		p.metrics.RecordSMSDuplicate("reference")
		p.metrics.RecordSMSOutcome(string(out.Status))
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	out.Status = StatusRecorded
	out.TransactionID = &txn.ID
	save := SuggestedSave(txn.Amount)
	out.SuggestedSave = &save

	p.metrics.RecordSMSOutcome(string(out.Status))
	p.metrics.RecordTransactionWritten(txn.Direction, txn.Amount.InexactFloat64())
	p.publishTransaction(ctx, phone, txn)

	p.logger.InfoContext(ctx, "recorded transaction",
		"phone", phone,
		"transaction_id", txn.ID,
		"amount", txn.Amount.StringFixed(2),
		"direction", txn.Direction,
	)
	return out, nil
}

// RefreshTrustScore computes, saves and publishes the user's current
// score. Unknown phones yield db.ErrNotFound.
func (p *Pipeline) RefreshTrustScore(ctx context.Context, phone string) (*TrustScore, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	user, err := p.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	in, err := p.store.LoadTrustInputs(ctx, user.ID, p.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to load trust inputs: %w", err)
	}
	result := p.calculator.Calculate(in)

	snap, err := p.store.SaveTrustScore(ctx, user.ID, result)
	if err != nil {
		return nil, fmt.Errorf("failed to save trust score: %w", err)
	}
	p.metrics.RecordTrustScore("refresh", result.Rating, result.Score)

	if p.publisher != nil {
		if err := p.publisher.PublishTrustScore(ctx, nats.FromTrustSnapshot(phone, snap)); err != nil {
			p.logger.WarnContext(ctx, "failed to publish trust score", "phone", phone, "error", err)
		}
	}

	return &TrustScore{
		Phone:      phone,
		Score:      snap.Score,
		Rating:     snap.Rating,
		Components: snap.Components,
		ComputedAt: snap.ComputedAt,
	}, nil
}

// SuggestedSave is 10% of amounts of at least 500 and 5% of smaller ones,
// rounded to cents.
func SuggestedSave(amount decimal.Decimal) decimal.Decimal {
	rate := saveRateDefault
	if amount.GreaterThanOrEqual(saveThreshold) {
		rate = saveRateHigh
	}
	return amount.Mul(rate).Round(2)
}

func (p *Pipeline) releaseOnError(ctx context.Context, key string, err *error) {
	if *err == nil {
		return
	}
	if rerr := p.dedup.Release(context.WithoutCancel(ctx), key); rerr != nil {
		p.logger.WarnContext(ctx, "failed to release dedup key", "error", rerr)
	}
}

func (p *Pipeline) publishTransaction(ctx context.Context, phone string, txn *db.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishTransaction(ctx, nats.FromDBTransaction(phone, txn)); err != nil {
		p.logger.WarnContext(ctx, "failed to publish transaction", "transaction_id", txn.ID, "error", err)
	}
}

func (p *Pipeline) publishAlert(ctx context.Context, phone string, alert *db.FraudAlert) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishFraudAlert(ctx, nats.FromDBFraudAlert(phone, alert)); err != nil {
		p.logger.WarnContext(ctx, "failed to publish fraud alert", "alert_id", alert.ID, "error", err)
	}
}
