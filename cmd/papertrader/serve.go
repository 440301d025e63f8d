package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/papertrader/api"
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/risk"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a live paper account behind the HTTP/WebSocket API",
	Long: `Starts a paper ledger and serves it over HTTP. Orders posted to the API
pass the portfolio risk checks before reaching the ledger; market data is
fed through POST /api/v1/ticks. Ledger events stream to WebSocket clients
and, when enabled, to Redis and the PostgreSQL journal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lcfg := ledgerConfig(cfg.Ledger)
		if capital, _ := cmd.Flags().GetFloat64("capital"); capital > 0 {
			lcfg.InitialCapital = capital
		}
		l, err := ledger.New(lcfg, ledger.WithLogger(logger))
		if err != nil {
			return err
		}

		limits := risk.DefaultLimits()
		strategyName := "manual"
		if path, _ := cmd.Flags().GetString("strategy"); path != "" {
			strat, err := strategy.LoadFile(path)
			if err != nil {
				return err
			}
			limits = risk.LimitsFromStrategy(strat.RiskControl)
			strategyName = strat.Name
		}
		mgr := risk.NewManager(limits, l.Config().LotSize, logger)
		l.Subscribe(risk.NewTracker(mgr))

		srv, err := api.NewServer(api.Options{
			Ledger:  l,
			Sink:    risk.NewGate(l, l, mgr),
			Risk:    mgr,
			Config:  cfg,
			Version: version,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		s := &sinks{logger: logger}
		s.attach(l, srv.Hub(), "websocket")
		if cfg.Redis.Enabled {
			if err := s.attachRedis(ctx, l, cfg.Redis); err != nil {
				return err
			}
		}
		if cfg.Postgres.Enabled {
			if err := s.attachJournal(ctx, l, cfg.Postgres, strategyName); err != nil {
				_ = s.close(l.Stats())
				return err
			}
		}

		l.Start(ctx)

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 papertrader API on %s (capital %s)\n", addr, utils.FormatCNY(lcfg.InitialCapital))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr)
		})
		serveErr := g.Wait()

		stats := l.Stats()
		closeErr := l.Close()
		if errors.Is(closeErr, ledger.ErrCloseTimeout) {
			logger.Warn("ledger publisher did not stop in time")
			closeErr = nil
		}
		return errors.Join(serveErr, closeErr, s.close(stats))
	},
}

func init() {
	serveCmd.Flags().Float64("capital", 0, "initial capital override (default: ledger.initial_capital)")
	serveCmd.Flags().String("strategy", "", "strategy file whose risk_control sets the API risk limits")
}
