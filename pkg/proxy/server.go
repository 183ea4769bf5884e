package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/symbiontlabs/leukocyte/pkg/appconfig"
	"github.com/symbiontlabs/leukocyte/pkg/inspector"
	"github.com/symbiontlabs/leukocyte/pkg/ruleset"
)

const shutdownTimeout = 10 * time.Second

// Server runs the data-plane listener (inspecting proxy) and the admin
// listener (health, metrics, rule set view).
type Server struct {
	cfg      *appconfig.Config
	provider *ruleset.FileProvider
	metrics  *Metrics
	logger   *slog.Logger

	dataSrv  *http.Server
	adminSrv *http.Server
}

// NewServer assembles the data plane from configuration.
func NewServer(cfg *appconfig.Config, provider *ruleset.FileProvider, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	metrics := NewMetrics()
	provider.OnReload(metrics.RecordReload)

	insp := inspector.New(logger, inspector.Options{
		MemoryThreshold: cfg.Inspector.MemoryThresholdBytes,
		MaxBodyBytes:    cfg.Inspector.MaxBodyBytes,
	})

	upstream, err := upstreamHandler(cfg.Server.Upstream)
	if err != nil {
		return nil, err
	}

	dataHandler := otelhttp.NewHandler(
		NewMiddleware(provider, insp, metrics, logger, upstream),
		"leukocyte.inspect",
	)

	s := &Server{
		cfg:      cfg,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
	}

	s.dataSrv = &http.Server{
		Addr:              cfg.Server.DataAddress,
		Handler:           dataHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.adminSrv = &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           s.adminMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts both listeners and blocks until ctx is cancelled or a listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("data plane listening", "address", s.cfg.Server.DataAddress)
		if err := s.dataSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("data listener: %w", err)
		}
	}()
	go func() {
		s.logger.Info("admin listening", "address", s.cfg.Server.AdminAddress)
		if err := s.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := s.dataSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = err
	}
	if err := s.adminSrv.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}

// adminMux exposes health, metrics and the active rule set generation.
func (s *Server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", s.metrics.Handler())

	mux.HandleFunc("/rulesets", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.provider.Current().Summarize())
	})

	return mux
}

// upstreamHandler builds the forwarding handler. Without an upstream the
// data plane answers 502 for allowed requests, which keeps the inspection
// path testable in isolation.
func upstreamHandler(rawURL string) (http.Handler, error) {
	if rawURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
		}), nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse upstream url: %w", err)
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	return rp, nil
}
