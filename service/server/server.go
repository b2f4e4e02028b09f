package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tajiricircle/tajiri/service/config"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/metrics"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/tajiricircle/tajiri/service/temporal"
)

// Ingester is the part of the pipeline the HTTP API drives.
// *pipeline.Pipeline implements it.
type Ingester interface {
	Analyze(text, sender string) pipeline.Analysis
	ProcessSMS(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error)
	RefreshTrustScore(ctx context.Context, phone string) (*pipeline.TrustScore, error)
}

// Store is the persistence the HTTP API reads and writes directly.
// *db.Store implements it.
type Store interface {
	GetUserByPhone(ctx context.Context, phone string) (*db.User, error)
	ListTransactionsByUser(ctx context.Context, params db.ListTransactionsByUserParams) ([]*db.Transaction, error)
	CountTransactionsByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListFraudAlertsByUser(ctx context.Context, params db.ListFraudAlertsParams) ([]*db.FraudAlert, error)
	UpdateFraudAlertStatus(ctx context.Context, params db.UpdateFraudAlertStatusParams) (*db.FraudAlert, error)
	CreateFraudReport(ctx context.Context, params db.CreateFraudReportParams) (*db.FraudReport, error)
	ListFraudReportsByUser(ctx context.Context, params db.ListFraudReportsParams) ([]*db.FraudReport, error)
	CreateSavingsGoal(ctx context.Context, params db.CreateSavingsGoalParams) (*db.SavingsGoal, error)
	ListSavingsGoals(ctx context.Context, userID uuid.UUID) ([]*db.SavingsGoal, error)
	Contribute(ctx context.Context, params db.ContributeParams) (*db.ContributeResult, error)
	CreateChama(ctx context.Context, params db.CreateChamaParams) (*db.Chama, error)
	GetChama(ctx context.Context, id uuid.UUID) (*db.Chama, error)
	JoinChama(ctx context.Context, chamaID, userID uuid.UUID) (*db.ChamaMember, error)
	RecordChamaContribution(ctx context.Context, params db.RecordChamaContributionParams) (*db.ChamaContribution, error)
}

// WorkflowStarter runs SMS ingestion asynchronously. *temporal.Client
// implements it.
type WorkflowStarter interface {
	StartProcessSMS(ctx context.Context, input temporal.ProcessSMSInput) (string, error)
	GetProcessSMSResult(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error)
}

// Server represents the HTTP server for the tajiri API.
type Server struct {
	addr         string
	cfg          *config.Config
	store        Store
	pipeline     Ingester
	workflows    WorkflowStarter
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The workflows and scheduler are optional - if nil, the async ingest and
// trust schedule endpoints answer 503.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, store Store, p Ingester, workflows WorkflowStarter, scheduler temporal.Scheduler, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		pipeline:     p,
		workflows:    workflows,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h)
		}
		mux.Handle(pattern, h)
	}

	// Analysis without persistence
	handle("POST /api/v1/sms/parse", handleParseSMS(s.pipeline, s.logger))
	handle("POST /api/v1/fraud/analyze", handleAnalyzeFraud(s.pipeline, s.logger))

	// Ingestion
	handle("POST /api/v1/sms", handleIngestSMS(s.pipeline, s.logger))
	handle("POST /api/v1/sms/async", handleIngestSMSAsync(s.workflows, s.logger))
	handle("GET /api/v1/sms/async/{workflow_id}", handleGetIngestStatus(s.workflows, s.logger))

	// Ledger and alerts
	handle("GET /api/v1/users/{phone}/transactions", handleListTransactions(s.store, s.logger))
	handle("GET /api/v1/users/{phone}/alerts", handleListAlerts(s.store, s.logger))
	handle("POST /api/v1/alerts/{id}/status", handleUpdateAlertStatus(s.store, s.logger))
	handle("POST /api/v1/fraud/reports", handleCreateFraudReport(s.store, s.logger))
	handle("GET /api/v1/users/{phone}/fraud/reports", handleListFraudReports(s.store, s.logger))

	// Trust scores
	handle("GET /api/v1/users/{phone}/trust-score", handleTrustScore(s.pipeline, s.logger))
	handle("POST /api/v1/users/{phone}/trust-schedule", handleUpsertTrustSchedule(s.store, s.scheduler, s.cfg, s.logger))
	handle("DELETE /api/v1/users/{phone}/trust-schedule", handleDeleteTrustSchedule(s.scheduler, s.logger))

	// Savings and chamas
	handle("POST /api/v1/savings/goals", handleCreateSavingsGoal(s.store, s.logger))
	handle("GET /api/v1/users/{phone}/savings/goals", handleListSavingsGoals(s.store, s.logger))
	handle("POST /api/v1/savings/contribute", handleContribute(s.store, s.logger))
	handle("POST /api/v1/chamas", handleCreateChama(s.store, s.logger))
	handle("GET /api/v1/chamas/{id}", handleGetChama(s.store, s.logger))
	handle("POST /api/v1/chamas/{id}/members", handleJoinChama(s.store, s.logger))
	handle("POST /api/v1/chamas/{id}/contributions", handleChamaContribution(s.store, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/alerts/{phone}", handleStream(s.ssePublisher, streamAlerts, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/alerts", handleStream(s.ssePublisher, streamAlerts, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transactions/{phone}", handleStream(s.ssePublisher, streamTransactions, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(s.cfg.CORSAllowedOrigins, mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight requests. An empty list or "*" allows every origin.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
