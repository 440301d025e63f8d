package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/papertrader/internal/runner"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// --- Replay Command ---

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical bars through a strategy on a fresh paper account",
	Long: `Loads one <code>.csv per symbol from the data directory, converts each bar
into a tick and drives the strategy's decision cycle on every timestamp:
exits first, then ranked and risk-checked entries. Prints a summary and
optionally writes the full result as JSON.`,
	Example: `  papertrader replay --strategy strategies/rsi.yaml --data ./data --symbols 600000,000001 --start 2025-01-01 --end 2025-12-31
  papertrader replay --strategy rsi.toml --capital 500000 --out result.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		flags := cmd.Flags()
		path, _ := flags.GetString("strategy")
		if path == "" {
			path = cfg.Replay.StrategyFile
		}
		if path == "" {
			return errors.New("a strategy file is required (--strategy or replay.strategy_file)")
		}
		strat, err := strategy.LoadFile(path)
		if err != nil {
			return err
		}

		loadOpts, err := replayLoadOptions(cmd, strat)
		if err != nil {
			return err
		}
		dataDir, _ := flags.GetString("data")
		if dataDir == "" {
			dataDir = cfg.Replay.DataDir
		}

		lcfg := ledgerConfig(cfg.Ledger)
		if capital, _ := flags.GetFloat64("capital"); capital > 0 {
			lcfg.InitialCapital = capital
		}
		opts := runner.Options{
			Speed:      cfg.Replay.Speed,
			WarmupBars: cfg.Replay.WarmupBars,
			Logger:     logger,
		}
		if flags.Changed("speed") {
			opts.Speed, _ = flags.GetFloat64("speed")
		}
		if flags.Changed("warmup") {
			opts.WarmupBars, _ = flags.GetInt("warmup")
		}
		opts.RiskFreeRate, _ = flags.GetFloat64("risk-free")

		analyzer := newAnalyzer(cfg.Sentiment, logger)
		if strat.EntryRules.AIEnhanced && analyzer == nil {
			logger.Warn("strategy is ai_enhanced but sentiment is disabled; entries use rule strength only")
		}

		// Bars and news load concurrently; a news failure only costs the blend.
		var bars []models.Bar
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			bars, err = runner.LoadDir(gctx, dataDir, loadOpts)
			return err
		})
		if analyzer != nil && strat.EntryRules.AIEnhanced {
			opts.Sentiment = analyzer
			g.Go(func() error {
				if err := analyzer.Refresh(gctx); err != nil {
					logger.Warn("news prefetch failed", "error", err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		r, err := runner.New(strat, lcfg, opts)
		if err != nil {
			return err
		}

		s := &sinks{logger: logger}
		if journalOn, _ := flags.GetBool("journal"); journalOn || cfg.Postgres.Enabled {
			if err := s.attachJournal(ctx, r.Ledger(), cfg.Postgres, strat.Name); err != nil {
				return err
			}
		}
		if cfg.Redis.Enabled {
			if err := s.attachRedis(ctx, r.Ledger(), cfg.Redis); err != nil {
				_ = s.close(r.Ledger().Stats())
				return err
			}
		}

		fmt.Printf("▶ Replaying %d bars through %q (capital %s)\n", len(bars), strat.Name, utils.FormatCNY(lcfg.InitialCapital))
		started := time.Now()
		res, runErr := r.Run(ctx, bars)
		if res != nil {
			fmt.Println()
			res.PrintSummary(os.Stdout)
			fmt.Printf("\nReplay took %s\n", time.Since(started).Round(time.Millisecond))

			if out, _ := flags.GetString("out"); out != "" {
				if err := res.WriteJSON(out); err != nil {
					runErr = errors.Join(runErr, err)
				} else {
					fmt.Printf("Result written to %s\n", out)
				}
			}
		}

		stats := r.Ledger().Stats()
		return errors.Join(runErr, r.Ledger().Close(), s.close(stats))
	},
}

func init() {
	f := replayCmd.Flags()
	f.String("strategy", "", "strategy file (.yaml, .json or .toml)")
	f.String("data", "", "directory of <code>.csv bar files (default: replay.data_dir)")
	f.String("symbols", "", "comma-separated codes (default: strategy universe, else every file)")
	f.String("start", "", "first date, YYYY-MM-DD (default: replay.start)")
	f.String("end", "", "last date inclusive, YYYY-MM-DD (default: replay.end)")
	f.Float64("capital", 0, "initial capital override")
	f.Float64("speed", 0, "replay pacing multiplier, 0 for as fast as possible")
	f.Int("warmup", 0, "bars of history required before entries")
	f.Float64("risk-free", 0.02, "annual risk-free rate for Sharpe and Sortino")
	f.String("out", "", "write the full result as JSON to this file")
	f.Bool("journal", false, "journal orders and trades to PostgreSQL")
}

// replayLoadOptions resolves the symbol list and date range from flags,
// falling back to the strategy universe and the replay config.
func replayLoadOptions(cmd *cobra.Command, strat strategy.Config) (runner.LoadOptions, error) {
	var opts runner.LoadOptions

	symbols, _ := cmd.Flags().GetString("symbols")
	if symbols == "" && len(strat.Universe.Symbols) > 0 {
		symbols = strings.Join(strat.Universe.Symbols, ",")
	}
	opts.Symbols = utils.ParseSymbols(symbols)

	start, _ := cmd.Flags().GetString("start")
	if start == "" {
		start = cfg.Replay.Start
	}
	end, _ := cmd.Flags().GetString("end")
	if end == "" {
		end = cfg.Replay.End
	}

	var err error
	if start != "" {
		if opts.Start, err = utils.ParseDateCST(start); err != nil {
			return opts, fmt.Errorf("invalid --start %q: %w", start, err)
		}
	}
	if end != "" {
		if opts.End, err = utils.ParseDateCST(end); err != nil {
			return opts, fmt.Errorf("invalid --end %q: %w", end, err)
		}
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return opts, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	return opts, nil
}
