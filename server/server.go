// Package server assembles a running relay from a loaded configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xgr-network/xgr-relay/chain"
	"github.com/xgr-network/xgr-relay/completion"
	"github.com/xgr-network/xgr-relay/config"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/journal/backend"
	"github.com/xgr-network/xgr-relay/metrics"
	"github.com/xgr-network/xgr-relay/prompt"
	"github.com/xgr-network/xgr-relay/relay"
)

// Server owns every long-lived resource of one relay process.
type Server struct {
	cfg    *config.Config
	logger hclog.Logger

	client   *chain.Client
	journal  journal.Store
	relay    *relay.Relay
	subs     *chain.SubscriptionManager
	registry *prometheus.Registry
	report   *relay.Report

	metricsLis net.Listener
	metricsSrv *http.Server
	closeOnce  sync.Once
	closeErr   error
}

// NewServer dials the chain and assembles the relay.
func NewServer(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*Server, error) {
	client, err := chain.Dial(ctx, cfg.DialConfig())
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	s, err := NewServerWithClient(ctx, cfg, client, logger)
	if err != nil {
		client.Close()

		return nil, err
	}

	return s, nil
}

// NewServerWithClient assembles the relay on top of an existing chain client.
// The journal is reconciled before the subscription start block is chosen.
func NewServerWithClient(
	ctx context.Context,
	cfg *config.Config,
	client *chain.Client,
	logger hclog.Logger,
) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	logger = logger.With("subscription", cfg.SubscriptionID)

	store, err := backend.Open(ctx, cfg.Journal, cfg.JournalParams(logger))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		client:   client,
		journal:  store,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setup(ctx, logger); err != nil {
		_ = store.Close()

		return nil, err
	}

	return s, nil
}

func (s *Server) setup(ctx context.Context, logger hclog.Logger) error {
	report, err := relay.NewReconciler(s.journal, s.client.Backend, logger).Reconcile(ctx)
	if report == nil {
		return fmt.Errorf("reconcile journal: %w", err)
	}

	if err != nil {
		// unresolved records stay unknown and are retried next start
		s.logger.Warn("journal reconciliation incomplete", "err", err)
	}

	s.report = report

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.New(s.registry, s.cfg.SubscriptionID)
	if err != nil {
		return err
	}

	prompts, err := prompt.NewSet(s.cfg.Players)
	if err != nil {
		return err
	}

	cc, err := completion.NewClient(s.cfg.CompletionConfig(logger))
	if err != nil {
		return fmt.Errorf("completion client: %w", err)
	}

	submitter, err := chain.NewSubmitter(s.client, s.cfg.SubmitterConfig(logger))
	if err != nil {
		return err
	}

	s.relay, err = relay.New(relay.Config{
		Prompts:       prompts,
		Completer:     completion.NewRetrying(cc, s.cfg.RetryConfig(), logger),
		Submitter:     submitter,
		Journal:       s.journal,
		Metrics:       m,
		SubmitTimeout: s.cfg.SubmitTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	s.subs, err = chain.NewSubscriptionManager(s.client, chain.NewDecoder(), chain.SubscriptionConfig{
		Handlers:         s.relay.Handlers(),
		Accept:           s.relay.Accept,
		StartBlock:       s.startBlock(),
		BatchSize:        s.cfg.Chain.BatchSize,
		PollEvery:        s.cfg.Chain.LogPollEvery,
		ResubscribeDelay: s.cfg.Chain.ResubscribeDelay,
		Checkpoints:      s.relay,
		OnDecodeError:    func(error) { m.DecodeError() },
		Logger:           logger,
	})

	return err
}

// startBlock prefers the journal over the configured block: the journal
// knows what this subscription already delivered.
func (s *Server) startBlock() *uint64 {
	if s.report != nil && s.report.HasStart {
		block := s.report.StartBlock

		return &block
	}

	if s.cfg.Chain.StartBlock != nil {
		block := *s.cfg.Chain.StartBlock

		return &block
	}

	return nil
}

// Report is the startup reconciliation result.
func (s *Server) Report() *relay.Report {
	return s.report
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// MetricsAddr is the bound metrics listener address, empty when disabled.
func (s *Server) MetricsAddr() string {
	if s.metricsLis == nil {
		return ""
	}

	return s.metricsLis.Addr().String()
}

// Run delivers events until ctx is done, then drains in-flight requests for
// at most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.serveMetrics(); err != nil {
		return err
	}

	start := "head"
	if b := s.startBlock(); b != nil {
		start = fmt.Sprint(*b)
	}

	s.logger.Info("relay started",
		"contract", s.client.Contract(),
		"from", s.client.From(),
		"chain_id", s.client.ChainID(),
		"journal", s.cfg.Journal,
		"start_block", start,
	)

	var result *multierror.Error

	if err := s.subs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, fmt.Errorf("subscription: %w", err))
	}

	s.logger.Info("draining in-flight requests", "count", s.relay.InFlight())

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.relay.Shutdown(drainCtx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (s *Server) serveMetrics() error {
	if s.cfg.MetricsAddr == "" {
		return nil
	}

	lis, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))

	s.metricsLis = lis
	s.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.metricsSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}()

	s.logger.Info("metrics listening", "addr", lis.Addr().String())

	return nil
}

// Close releases the metrics listener, the journal and the chain client.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		var result *multierror.Error

		if s.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.metricsSrv.Shutdown(ctx); err != nil {
				result = multierror.Append(result, fmt.Errorf("metrics server: %w", err))
			}

			cancel()
		}

		if err := s.journal.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("journal: %w", err))
		}

		s.client.Close()

		s.closeErr = result.ErrorOrNil()
	})

	return s.closeErr
}
