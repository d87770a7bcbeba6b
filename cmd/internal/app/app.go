// Package app wires the Cellar sync agent runtime: config, logging, the
// durable outbox, the realtime channel, and the local admin endpoint.
//
// It is intentionally small and deterministic: every dependency is
// constructed here and passed down explicitly.
package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"cellar/cmd/internal/backoff"
	"cellar/cmd/internal/outbox"
	"cellar/cmd/internal/realtime"
	"cellar/cmd/internal/syncer"
	"cellar/cmd/internal/transport"
)

// App is the sync agent runtime.
type App struct {
	cfg Config
	log Logger

	store   outbox.RecordStore
	queue   *outbox.Queue
	channel *realtime.Channel
	coord   *syncer.Coordinator
	reach   *syncer.Reachability
	metrics *Metrics
}

// New constructs a fully wired App instance from config and logger.
//
// A store that cannot be opened is not fatal: the queue runs in degraded
// no-op mode and /readyz reports not-ready, but the process stays up.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	store := openStore(cfg, log)

	reach := syncer.NewReachability()
	queue := outbox.NewQueue(log, store, transport.NewHTTPExecutor(cfg.ServerBaseURL), outbox.Config{
		Policy: outbox.RetryPolicy{
			Backoff: backoff.Policy{
				Strategy:  backoff.StrategyExponential,
				Base:      cfg.RetryBase,
				MaxDelay:  cfg.RetryMaxDelay,
				Jitter:    cfg.RetryJitter,
				MaxJitter: time.Second,
			},
			MaxAttempts:       cfg.RetryMaxAttempts,
			RetryableStatuses: outbox.DefaultRetryPolicy().RetryableStatuses,
			RetryServerErrors: true,
		},
		Origin: cfg.Origin,
		Actor:  cfg.Actor,
		Online: reach.Online,
	})

	channel := realtime.NewChannel(log, transport.NewWSDialer(), realtime.Config{
		URL:          cfg.WSURL,
		DefaultTopic: cfg.DefaultTopic,

		HeartbeatInterval: cfg.HeartbeatInterval,
		Reconnect: backoff.Policy{
			Strategy: backoff.StrategyExponential,
			Base:     cfg.ReconnectBase,
			MaxDelay: 30 * time.Second,
		},
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})

	coord := syncer.New(log, queue, channel, reach, syncer.Config{
		FlushOnConnect:      true,
		DisconnectOnOffline: cfg.DisconnectOnOffline,
	})

	metrics := NewMetrics()
	queue.Notify(metrics.ObserveQueue)
	channel.Notify(metrics.ObserveChannel)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		queue:   queue,
		channel: channel,
		coord:   coord,
		reach:   reach,
		metrics: metrics,
	}, nil
}

func openStore(cfg Config, log Logger) outbox.RecordStore {
	switch cfg.StoreBackend {
	case StoreMemory:
		log.Warn("store.memory", "note", "outbox will not survive restarts")
		return outbox.NewMemoryStore()

	case StoreSQLite:
		path := filepath.Join(cfg.DataDir, "outbox.sqlite")
		st, err := outbox.OpenSQLiteStore(path)
		if err != nil {
			log.Error("store.open_fail", "backend", cfg.StoreBackend, "path", path, "err", err)
			return nil
		}
		return st

	default:
		path := filepath.Join(cfg.DataDir, "outbox.db")
		st, err := outbox.OpenBoltStore(path)
		if err != nil {
			log.Error("store.open_fail", "backend", cfg.StoreBackend, "path", path, "err", err)
			return nil
		}
		return st
	}
}

// Run starts the agent and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	a.channel.Connect()

	// Drain anything left over from the previous run.
	if n, err := a.queue.Flush(ctx); err != nil {
		a.log.Error("outbox.initial_flush.fail", "err", err)
	} else if n > 0 {
		a.log.Info("outbox.initial_flush", "pending", n)
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.log.Info("agent.start", "addr", a.cfg.HTTPAddr, "server", a.cfg.ServerBaseURL, "ws", a.cfg.WSURL)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("agent.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("agent.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	a.coord.Close()
	a.channel.Destroy()
	a.queue.Destroy()
	if a.store != nil {
		_ = a.store.Close()
	}
	return nil
}
