package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/risk"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// Result is the outcome of a replay.
type Result struct {
	RunID       string               `json:"run_id"`
	Strategy    string               `json:"strategy"`
	From        time.Time            `json:"from"`
	To          time.Time            `json:"to"`
	Bars        int                  `json:"bars"`
	Stats       ledger.Statistics    `json:"statistics"`
	Metrics     Metrics              `json:"metrics"`
	Risk        risk.Report          `json:"risk"`
	Orders      []models.Order       `json:"orders"`
	Trades      []models.Trade       `json:"trades"`
	Positions   []models.Position    `json:"positions"`
	RoundTrips  []models.RoundTrip   `json:"round_trips"`
	ExitReasons map[string]int       `json:"exit_reasons"` // rule name -> count
	EquityCurve []models.EquityPoint `json:"equity_curve"`
}

func (r *Runner) result() *Result {
	r.mu.Lock()
	trips := append([]models.RoundTrip(nil), r.trips...)
	r.mu.Unlock()

	reasons := make(map[string]int)
	for _, t := range trips {
		reasons[ruleName(t.Reason)]++
	}

	return &Result{
		RunID:       r.id,
		Strategy:    r.strat.Name,
		From:        r.from,
		To:          r.to,
		Bars:        r.bars,
		Stats:       r.ledger.Stats(),
		Metrics:     ComputeMetrics(r.equity, trips, r.opts.RiskFreeRate),
		Risk:        r.risk.Report(),
		Orders:      r.ledger.Orders(),
		Trades:      r.ledger.Trades(),
		Positions:   r.ledger.Positions(),
		RoundTrips:  trips,
		ExitReasons: reasons,
		EquityCurve: append([]models.EquityPoint(nil), r.equity...),
	}
}

// ruleName strips the detail from an exit reason: "stop_loss (-5.10%)"
// becomes "stop_loss".
func ruleName(reason string) string {
	if reason == "" {
		return "unknown"
	}
	name, _, _ := strings.Cut(reason, " ")
	return name
}

// WriteJSON writes the result as indented JSON to path.
func (res *Result) WriteJSON(path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result %s: %w", path, err)
	}
	return nil
}

// PrintSummary writes a human-readable summary to w.
func (res *Result) PrintSummary(w io.Writer) {
	s, m := res.Stats, res.Metrics
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Strategy\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Period\t%s .. %s (%d bars)\n", utils.FormatDateCST(res.From), utils.FormatDateCST(res.To), res.Bars)
	fmt.Fprintf(tw, "Initial capital\t%s\n", utils.FormatCNY(s.InitialCapital))
	fmt.Fprintf(tw, "Cash balance\t%s\n", utils.FormatCNY(s.CurrentBalance))
	fmt.Fprintf(tw, "Equity\t%s\n", utils.FormatCNY(s.Equity))
	fmt.Fprintf(tw, "Return\t%s\n", utils.FormatPct(s.ReturnPct))
	fmt.Fprintf(tw, "Realized P&L\t%s\n", utils.FormatCNY(s.RealizedPnL))
	fmt.Fprintf(tw, "Commission / stamp duty\t%s / %s\n", utils.FormatCNY(s.TotalCommission), utils.FormatCNY(s.TotalStampDuty))
	fmt.Fprintf(tw, "Trades\t%d\n", s.TotalTrades)
	fmt.Fprintf(tw, "Round trips\t%d (win rate %.1f%%)\n", m.RoundTrips, m.WinRate)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(tw, "Sharpe / Sortino\t%.2f / %.2f\n", m.SharpeRatio, m.SortinoRatio)
	reasons := make([]string, 0, len(res.ExitReasons))
	for reason := range res.ExitReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(tw, "Exit: %s\t%d\n", reason, res.ExitReasons[reason])
	}
	tw.Flush()
}
