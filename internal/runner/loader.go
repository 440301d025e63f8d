package runner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// ErrNoBars is returned when a load produces no bars at all.
var ErrNoBars = errors.New("no historical bars loaded")

// timeLayouts are tried in order for the date column. Times without a zone
// are read as CST.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102",
	time.RFC3339,
}

// LoadOptions selects what LoadDir reads.
type LoadOptions struct {
	Symbols []string  // codes; empty loads every *.csv in the directory
	Start   time.Time // inclusive, zero for no bound
	End     time.Time // inclusive by CST date, zero for no bound
}

// LoadDir reads one "<code>.csv" per symbol from dir concurrently and
// returns the bars merged and sorted by time. Files that are missing for a
// requested symbol are an error.
func LoadDir(ctx context.Context, dir string, opts LoadOptions) ([]models.Bar, error) {
	symbols := opts.Symbols
	if len(symbols) == 0 {
		matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, m := range matches {
			symbols = append(symbols, strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)))
		}
	}

	var (
		mu  sync.Mutex
		all []models.Bar
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bars, err := LoadFile(filepath.Join(dir, utils.NormalizeSymbol(sym)+".csv"), sym)
			if err != nil {
				return err
			}
			bars = filterRange(bars, opts.Start, opts.End)
			mu.Lock()
			all = append(all, bars...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoBars
	}

	SortBars(all)
	return all, nil
}

// LoadFile reads a bar CSV for symbol.
func LoadFile(path, symbol string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV parses bars from r. The header must name a time column (date,
// datetime, time or trade_date) and open, high, low, close; volume and
// turnover are optional. Column names are case-insensitive.
func ReadCSV(r io.Reader, symbol string) ([]models.Bar, error) {
	code := utils.NormalizeSymbol(symbol)
	exchange := utils.ExchangeFor(code)

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := columnIndex(header)
	for _, required := range []string{"time", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	var bars []models.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := parseTime(rec[cols["time"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := models.Bar{Symbol: code, Exchange: exchange, Time: t}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close},
			{"volume", &bar.Volume}, {"turnover", &bar.Turnover},
		}
		for _, fld := range fields {
			idx, ok := cols[fld.name]
			if !ok || idx >= len(rec) || strings.TrimSpace(rec[idx]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, fld.name, err)
			}
			*fld.dst = v
		}
		if bar.Close <= 0 {
			continue
		}
		bars = append(bars, bar)
	}

	SortBars(bars)
	return bars, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch name {
		case "date", "datetime", "trade_date", "timestamp":
			name = "time"
		case "vol":
			name = "volume"
		case "amount":
			name = "turnover"
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, utils.CST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func filterRange(bars []models.Bar, start, end time.Time) []models.Bar {
	if start.IsZero() && end.IsZero() {
		return bars
	}
	endDate := ""
	if !end.IsZero() {
		endDate = utils.FormatDateCST(end)
	}
	out := bars[:0]
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if endDate != "" && utils.FormatDateCST(b.Time) > endDate {
			continue
		}
		out = append(out, b)
	}
	return out
}

// SortBars orders bars by time, then by vt_symbol for equal times.
func SortBars(bars []models.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Time.Equal(bars[j].Time) {
			return bars[i].Time.Before(bars[j].Time)
		}
		return bars[i].VTSymbol() < bars[j].VTSymbol()
	})
}
