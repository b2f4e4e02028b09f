package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tajiricircle/tajiri/service/metrics"
)

// Publisher defines the interface for publishing ledger events to NATS.
type Publisher interface {
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishTransactionBatch publishes each event, logging failures
	// instead of aborting the batch.
	PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error

	PublishFraudAlert(ctx context.Context, event *FraudAlertEvent) error
	PublishTrustScore(ctx context.Context, event *TrustScoreEvent) error

	Close() error
}

const (
	// StreamName is the JetStream stream holding every tajiri event.
	StreamName = "TAJIRI"

	// SubjectPrefix is the first token of every subject.
	SubjectPrefix = "tajiri"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".>"

	// StreamRetention is how long events are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// Connect dials NATS with reconnects enabled.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to NATS and ensures the stream exists. Metrics
// may be nil.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "tajiri-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := EnsureStream(ctx, js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the stream when it does not exist yet.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Ledger, fraud alert and trust score events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, kind, phone string, event any) error {
	start := time.Now()
	subject := Subject(kind, phone)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	if _, err = p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordNATSPublish(kind, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}
	p.metrics.RecordNATSPublish(kind, "success", time.Since(start).Seconds())

	p.logger.Debug("published event", "subject", subject, "kind", kind)
	return nil
}

func (p *JetStreamPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	return p.publish(ctx, KindTransaction, event.Phone, event)
}

func (p *JetStreamPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	for _, event := range events {
		if err := p.PublishTransaction(ctx, event); err != nil {
			p.logger.Error("failed to publish transaction in batch",
				"transaction_id", event.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (p *JetStreamPublisher) PublishFraudAlert(ctx context.Context, event *FraudAlertEvent) error {
	return p.publish(ctx, KindAlert, event.Phone, event)
}

func (p *JetStreamPublisher) PublishTrustScore(ctx context.Context, event *TrustScoreEvent) error {
	return p.publish(ctx, KindTrust, event.Phone, event)
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
