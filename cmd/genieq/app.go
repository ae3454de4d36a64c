package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/comigor/genieq/internal/backoff"
	"github.com/comigor/genieq/internal/config"
	"github.com/comigor/genieq/internal/conversation"
	"github.com/comigor/genieq/internal/genie"
	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/llm"
	"github.com/comigor/genieq/internal/metrics"
	"github.com/comigor/genieq/internal/queue"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/sqlgen"
)

// backend is what both remote collaborators offer.
type backend interface {
	remote.Client
	remote.SpaceLister
}

// app holds everything a command needs, built from the loaded config.
type app struct {
	cfg     *config.Config
	backend backend
	store   history.Store
	metrics *metrics.Metrics
	manager *conversation.Manager
	logger  *slog.Logger

	closers []func() error
}

func newApp(cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	b, err := newBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	a.backend = b
	if c, ok := b.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	store, err := history.Open(cfg.History.DBPath, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	m, err := metrics.New(reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.metrics = m

	policy := backoff.Policy{
		Base:       cfg.Retry.BaseBackoff,
		Multiplier: cfg.Retry.BackoffMultiplier,
		Max:        cfg.Retry.MaxBackoff,
	}
	exec := remote.NewExecutor(policy, cfg.Retry.MaxRetries,
		remote.WithLogger(log),
		remote.WithRetryHook(func(step string, _ int, _ time.Duration) { m.Retried(step) }),
	)

	a.manager = conversation.NewManager(b, exec, conversation.Options{
		Queue: queue.Config{
			MaxQueueSize:       cfg.Queue.MaxQueueSize,
			Workers:            cfg.Queue.WorkerCount,
			SessionWaitTimeout: cfg.Queue.SessionWaitTimeout,
		},
		SessionTTL:      cfg.Session.TTL,
		JanitorSchedule: cfg.Session.JanitorSchedule,
		Store:           store,
		Metrics:         m,
		Logger:          log,
	})
	return a, nil
}

func newBackend(cfg *config.Config, log *slog.Logger) (backend, error) {
	switch cfg.Backend {
	case config.BackendGenie:
		return genie.New(cfg.Genie, genie.WithLogger(log)), nil
	case config.BackendLocal:
		return sqlgen.Open(cfg.Local.DatabasePath, llm.NewClient(cfg.LLM), cfg.LLM.Model, log)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Close releases the backend and the history store.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
