// Package server is the HTTP request layer: telemetry ingestion, metrics
// queries, health, and the Prometheus exposition endpoint. It owns no
// semantics of its own — validation belongs to ingest, aggregation to
// analytics — and contributes only transport concerns: routing, request ids,
// rate limiting, and JSON encoding.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Ingestor processes raw telemetry submissions.
type Ingestor interface {
	ProcessEvent(ctx context.Context, raw []byte) error
	ProcessBatch(ctx context.Context, raws [][]byte) types.BatchResult
}

// MetricsEvaluator runs aggregate metric queries.
type MetricsEvaluator interface {
	Evaluate(ctx context.Context, q types.MetricsQuery) (*types.AggregateResult, error)
}

// Config holds the transport knobs.
type Config struct {
	Listen string
	// RPS/Burst bound the ingestion endpoints; RPS 0 disables limiting.
	RPS   float64
	Burst int
}

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	ingestor  Ingestor
	evaluator MetricsEvaluator
	metrics   *diag.Metrics
	logger    *slog.Logger
	limiter   *rate.Limiter
	http      *http.Server
}

// New creates a server with all routes registered.
func New(cfg Config, ingestor Ingestor, evaluator MetricsEvaluator, metrics *diag.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		ingestor:  ingestor,
		evaluator: evaluator,
		metrics:   metrics,
		logger:    logger,
	}
	if cfg.RPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	}

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped route tree. Exposed for
// httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/telemetry", s.rateLimited(s.handleTelemetry))
	mux.HandleFunc("POST /v1/telemetry/batch", s.rateLimited(s.handleTelemetryBatch))
	mux.HandleFunc("GET /v1/metrics/llm", s.handleMetricsLLM)
	mux.HandleFunc("GET /v1/metrics/llm/relations", s.handleMetricsRelations)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.withRequestID(s.withLogging(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Listen)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
