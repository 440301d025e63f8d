package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seenimoa/papertrader/internal/config"
	"github.com/seenimoa/papertrader/internal/eventbus"
	"github.com/seenimoa/papertrader/internal/infra"
	"github.com/seenimoa/papertrader/internal/journal"
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/sentiment"
)

// drainTimeout bounds how long shutdown waits for queued events.
const drainTimeout = 5 * time.Second

// ledgerConfig maps the application config onto the ledger's cost model.
func ledgerConfig(c config.LedgerConfig) ledger.Config {
	return ledger.Config{
		InitialCapital:    c.InitialCapital,
		CommissionRate:    c.CommissionRate,
		StampDutyRate:     c.StampDutyRate,
		Slippage:          c.Slippage,
		LotSize:           c.LotSize,
		ExecutionDelay:    time.Duration(c.ExecutionDelayMs) * time.Millisecond,
		PublishInterval:   time.Duration(c.PublishIntervalMs) * time.Millisecond,
		CloseTimeout:      time.Duration(c.CloseTimeoutMs) * time.Millisecond,
		DepthLimitedFills: c.DepthLimitedFills,
	}
}

// sinks collects the optional event consumers attached to a ledger so
// they can be drained and closed together.
type sinks struct {
	logger  *slog.Logger
	queues  []*eventbus.Async
	closers []func()

	store  *journal.Store
	runID  string
	client *journal.Client
}

// attach subscribes obs to l behind a bounded async queue.
func (s *sinks) attach(l *ledger.Ledger, obs ledger.Observer, name string) {
	q := eventbus.NewAsync(obs, eventbus.DefaultQueueSize, s.logger.With("sink", name))
	l.Subscribe(q)
	s.queues = append(s.queues, q)
}

// attachRedis connects to Redis and publishes every ledger event.
func (s *sinks) attachRedis(ctx context.Context, l *ledger.Ledger, rc config.RedisConfig) error {
	bus, err := eventbus.NewRedisBus(ctx, eventbus.RedisConfig{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err != nil {
		return err
	}
	s.attach(l, eventbus.NewPublisher(bus, rc.ChannelPrefix, rc.Stream, s.logger), "redis")
	s.closers = append(s.closers, func() { _ = bus.Close() })
	s.logger.Info("redis event publisher attached", "addr", rc.Addr, "stream", rc.Stream)
	return nil
}

// attachJournal connects to PostgreSQL, applies migrations, opens a run
// and journals orders and trades under it.
func (s *sinks) attachJournal(ctx context.Context, l *ledger.Ledger, pc config.PostgresConfig, strategyName string) error {
	client, err := journal.NewClient(ctx, journal.ClientConfig{DSN: pc.DSN, MaxConns: pc.MaxConns})
	if err != nil {
		return err
	}
	if err := client.RunMigrations(ctx); err != nil {
		client.Close()
		return err
	}

	store := journal.NewStore(client.Pool())
	runID, err := store.StartRun(ctx, strategyName, l.Config())
	if err != nil {
		client.Close()
		return err
	}

	s.store, s.runID, s.client = store, runID, client
	s.attach(l, journal.NewObserver(store, runID, s.logger), "journal")
	s.logger.Info("trade journal attached", "journal_run_id", runID)
	return nil
}

// close drains every queue, finishes the journal run with the final
// statistics and releases connections.
func (s *sinks) close(stats ledger.Statistics) error {
	var errs []error
	for _, q := range s.queues {
		if err := q.Close(drainTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := s.store.FinishRun(ctx, s.runID, stats); err != nil {
			errs = append(errs, fmt.Errorf("finish journal run: %w", err))
		}
		cancel()
		s.client.Close()
	}
	for _, c := range s.closers {
		c()
	}
	return errors.Join(errs...)
}

// newAnalyzer builds a news sentiment analyzer from config, or nil when
// disabled or no feeds are configured.
func newAnalyzer(sc config.SentimentConfig, logger *slog.Logger) *sentiment.Analyzer {
	if !sc.Enabled || len(sc.Feeds) == 0 {
		return nil
	}
	rate := float64(sc.RatePerSec)
	if rate <= 0 {
		rate = 2
	}
	fetcher := sentiment.NewFetcher(sentiment.SourcesFromURLs(sc.Feeds), infra.PerSecond(rate), logger)
	ttl := time.Duration(sc.CacheTTLSec) * time.Second
	return sentiment.NewAnalyzer(fetcher, sc.CacheSize, ttl, logger)
}
