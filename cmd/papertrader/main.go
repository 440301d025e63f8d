// Command papertrader runs A-share paper trading as a live API server or a historical replay.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/papertrader/internal/config"
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/rules"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, set in PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "papertrader: A-share paper trading engine",
	Long: `papertrader simulates exchange-side execution of A-share orders against
streaming market data: 100-share lots, commission, sell-side stamp duty,
slippage and portfolio risk limits. It serves a live paper account over
HTTP/WebSocket and replays historical bars through declarative strategies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logger = config.NewLogger(cfg.Logging, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(strategyCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("papertrader %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Strategy Commands ---

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Work with strategy configuration files",
}

var strategyValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Load and validate a strategy file (.yaml, .json or .toml)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strat, err := strategy.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := strat.Validate(); err != nil {
			return err
		}

		engine := rules.New(strat, logger)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ %s is valid\n", args[0])
		fmt.Fprintf(out, "  Name:            %s\n", strat.Name)
		fmt.Fprintf(out, "  Entry rules:     %d (ai_enhanced=%v, weight=%.2f)\n",
			len(strat.EntryRules.Conditions), strat.EntryRules.AIEnhanced, strat.EntryRules.AIWeight)
		fmt.Fprintf(out, "  Exit:            tp %s, sl %s, hold %dd, trail %s, %d conditions\n",
			utils.FormatPct(strat.ExitRules.TakeProfit*100), utils.FormatPct(-strat.ExitRules.StopLoss*100),
			strat.ExitRules.HoldingDays, utils.FormatPct(-strat.ExitRules.TrailingStop*100),
			len(strat.ExitRules.Conditions))
		fmt.Fprintf(out, "  Risk:            max %d positions, %.1f%% each, dd %.1f%%, daily loss %.1f%%\n",
			strat.RiskControl.MaxPositions, strat.RiskControl.PositionSize*100,
			strat.RiskControl.MaxDrawdown*100, strat.RiskControl.DailyLossLimit*100)
		if len(strat.Universe.Symbols) > 0 {
			fmt.Fprintf(out, "  Universe:        %s\n", strings.Join(strat.Universe.Symbols, ", "))
		}
		fmt.Fprintf(out, "  Indicators:      %s\n", strings.Join(engine.Indicators(), ", "))
		return nil
	},
}

func init() {
	strategyCmd.AddCommand(strategyValidateCmd)
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and the running server's account statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintln(out, "  papertrader: System Status")
		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintf(out, "  Version:       %s (%s)\n", version, commit)
		now := utils.NowCST()
		marketStatus := "closed"
		if utils.IsMarketOpenAt(now) {
			marketStatus = "open"
		}
		fmt.Fprintf(out, "  Market:        %s\n", marketStatus)
		fmt.Fprintf(out, "  Time (CST):    %s\n", utils.FormatDateTimeCST(now))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "  Configuration:")
		fmt.Fprintf(out, "    Capital:       %s\n", utils.FormatCNY(cfg.Ledger.InitialCapital))
		fmt.Fprintf(out, "    Costs:         commission %.4f, stamp duty %.4f, slippage %.4f\n",
			cfg.Ledger.CommissionRate, cfg.Ledger.StampDutyRate, cfg.Ledger.Slippage)
		fmt.Fprintf(out, "    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Fprintf(out, "    Redis:         %s\n", enabled(cfg.Redis.Enabled, cfg.Redis.Addr))
		fmt.Fprintf(out, "    Journal:       %s\n", enabled(cfg.Postgres.Enabled, "postgres"))
		fmt.Fprintf(out, "    Sentiment:     %s\n", enabled(cfg.Sentiment.Enabled, fmt.Sprintf("%d feeds", len(cfg.Sentiment.Feeds))))
		fmt.Fprintln(out)

		fmt.Fprintln(out, "  Secrets:")
		for _, s := range config.CheckSecrets(cfg) {
			status := "❌ not set"
			if s.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", s.Source, s.Masked)
			}
			fmt.Fprintf(out, "    %-16s %s\n", s.Name+":", status)
		}
		fmt.Fprintln(out)

		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = fmt.Sprintf("http://%s:%d", localHost(cfg.API.Host), cfg.API.Port)
		}
		fmt.Fprintf(out, "  Server (%s):\n", serverURL)
		stats, err := fetchStats(cmd.Context(), serverURL)
		if err != nil {
			fmt.Fprintf(out, "    not reachable: %v\n", err)
		} else {
			fmt.Fprintf(out, "    Equity:        %s (%s)\n", utils.FormatCNY(stats.Equity), utils.FormatPct(stats.ReturnPct))
			fmt.Fprintf(out, "    Cash/Frozen:   %s / %s\n", utils.FormatCNY(stats.CurrentBalance), utils.FormatCNY(stats.Frozen))
			fmt.Fprintf(out, "    Realized P&L:  %s\n", utils.FormatCNY(stats.RealizedPnL))
			fmt.Fprintf(out, "    Trades:        %d\n", stats.TotalTrades)
		}

		fmt.Fprintln(out, "═══════════════════════════════════════")
		return nil
	},
}

func init() {
	statusCmd.Flags().String("server", "", "API base URL (default: from api.host/api.port)")
}

func enabled(on bool, detail string) string {
	if !on {
		return "disabled"
	}
	return "enabled (" + detail + ")"
}

// localHost maps a wildcard listen address to loopback for dialing.
func localHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

// fetchStats reads GET /api/v1/stats from a running server.
func fetchStats(ctx context.Context, baseURL string) (ledger.Statistics, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/stats", nil)
	if err != nil {
		return ledger.Statistics{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ledger.Statistics{}, err
	}
	defer resp.Body.Close()

	var body struct {
		Success bool              `json:"success"`
		Data    ledger.Statistics `json:"data"`
		Error   string            `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ledger.Statistics{}, fmt.Errorf("decode stats: %w", err)
	}
	if !body.Success {
		return ledger.Statistics{}, fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)
	}
	return body.Data, nil
}
