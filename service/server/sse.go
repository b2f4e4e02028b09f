package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tajiricircle/tajiri/service/metrics"
	natspkg "github.com/tajiricircle/tajiri/service/nats"
	"github.com/tajiricircle/tajiri/service/pipeline"
)

// stream describes one kind of SSE feed.
type stream struct {
	kind  string // NATS subject kind
	event string // SSE event name
}

var (
	streamAlerts       = stream{kind: natspkg.KindAlert, event: "alert"}
	streamTransactions = stream{kind: natspkg.KindTransaction, event: "transaction"}
)

const sseKeepalive = 10 * time.Second

// SSEPublisher manages Server-Sent Events connections for alert and
// transaction streaming.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "tajiri-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStream streams events of one kind. Without a {phone} path value
// it streams every user.
func handleStream(publisher *SSEPublisher, s stream, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone := ""
		target := "all users"
		if raw := r.PathValue("phone"); raw != "" {
			normalized, err := pipeline.NormalizePhone(raw)
			if err != nil {
				writeError(w, "invalid phone: must be a Kenyan mobile number (07XXXXXXXX or +2547XXXXXXXX)", http.StatusBadRequest)
				return
			}
			phone = normalized
			target = normalized
		}
		subject := natspkg.SubjectFilter(s.kind, phone)

		// Streams outlive the server write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_ = rc.Flush()

		m.RecordSSEConnectionChange(s.kind, 1)
		defer m.RecordSSEConnectionChange(s.kind, -1)

		logger.DebugContext(r.Context(), "SSE client connected",
			"stream", s.kind,
			"target", target,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer: only events published after the client connects.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subject", subject,
				"error", err,
			)
			writeEvent(w, "error", []byte(`{"error":"failed to subscribe"}`))
			_ = rc.Flush()
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string]string{"stream": s.kind, "target": target})
		writeEvent(w, "connected", connected)
		_ = rc.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				_ = rc.Flush()

			case msg := <-msgChan:
				if !json.Valid(msg.Data()) {
					logger.WarnContext(r.Context(), "dropping malformed event", "subject", msg.Subject())
					_ = msg.Ack()
					continue
				}
				writeEvent(w, s.event, msg.Data())
				_ = rc.Flush()
				_ = msg.Ack()
				m.RecordSSEEventSent(s.kind, s.event)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"stream", s.kind,
					"target", target,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}

// writeEvent writes one SSE frame. data must not contain newlines.
func writeEvent(w io.Writer, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
