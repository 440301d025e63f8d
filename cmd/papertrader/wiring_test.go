package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/papertrader/internal/config"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/utils"
)

func TestLedgerConfig(t *testing.T) {
	lc := ledgerConfig(config.LedgerConfig{
		InitialCapital:    500_000,
		CommissionRate:    0.00025,
		StampDutyRate:     0.0005,
		Slippage:          0.002,
		ExecutionDelayMs:  50,
		LotSize:           100,
		PublishIntervalMs: 250,
		CloseTimeoutMs:    1500,
		DepthLimitedFills: true,
	})

	if lc.InitialCapital != 500_000 || lc.CommissionRate != 0.00025 || lc.StampDutyRate != 0.0005 || lc.Slippage != 0.002 {
		t.Errorf("rates: got %+v", lc)
	}
	if lc.ExecutionDelay != 50*time.Millisecond || lc.PublishInterval != 250*time.Millisecond || lc.CloseTimeout != 1500*time.Millisecond {
		t.Errorf("durations: got %v %v %v", lc.ExecutionDelay, lc.PublishInterval, lc.CloseTimeout)
	}
	if !lc.DepthLimitedFills || lc.LotSize != 100 {
		t.Errorf("flags: got %+v", lc)
	}
	if err := lc.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNewAnalyzerDisabled(t *testing.T) {
	if a := newAnalyzer(config.SentimentConfig{Enabled: false, Feeds: []string{"https://example.com/rss"}}, nil); a != nil {
		t.Error("disabled sentiment should give nil analyzer")
	}
	if a := newAnalyzer(config.SentimentConfig{Enabled: true}, nil); a != nil {
		t.Error("no feeds should give nil analyzer")
	}
	if a := newAnalyzer(config.SentimentConfig{Enabled: true, Feeds: []string{"https://example.com/rss"}}, nil); a == nil {
		t.Error("expected analyzer")
	}
}

func TestReplayLoadOptions(t *testing.T) {
	cfg = &config.Config{}
	cfg.Replay.Start = "2025-01-02"

	strat := strategy.Default()
	strat.Universe.Symbols = []string{"600000.SSE", "000001.SZSE"}

	cmd := replayCmd
	t.Cleanup(func() {
		_ = cmd.Flags().Set("symbols", "")
		_ = cmd.Flags().Set("end", "")
	})

	opts, err := replayLoadOptions(cmd, strat)
	if err != nil {
		t.Fatalf("replayLoadOptions: %v", err)
	}
	if strings.Join(opts.Symbols, ",") != "600000,000001" {
		t.Errorf("symbols from universe: got %v", opts.Symbols)
	}
	if utils.FormatDateCST(opts.Start) != "2025-01-02" || !opts.End.IsZero() {
		t.Errorf("range: got %v .. %v", opts.Start, opts.End)
	}

	_ = cmd.Flags().Set("symbols", "sz000002")
	_ = cmd.Flags().Set("end", "2024-12-31")
	if _, err := replayLoadOptions(cmd, strat); err == nil {
		t.Error("expected error for end before start")
	}

	_ = cmd.Flags().Set("end", "2025-06-30")
	opts, err = replayLoadOptions(cmd, strat)
	if err != nil {
		t.Fatalf("replayLoadOptions: %v", err)
	}
	if len(opts.Symbols) != 1 || opts.Symbols[0] != "000002" {
		t.Errorf("symbols flag: got %v", opts.Symbols)
	}

	_ = cmd.Flags().Set("end", "30/06/2025")
	if _, err := replayLoadOptions(cmd, strat); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestStrategyValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsi.yaml")
	doc := `
strategy_name: rsi_dip
entry_rules:
  conditions:
    - indicator: rsi
      operator: "<"
      value: 30
exit_rules:
  take_profit: 0.08
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"strategy", "validate", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	for _, want := range []string{"is valid", "rsi_dip", "tp +8.00%", "Indicators:      rsi"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
