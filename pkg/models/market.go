// Package models defines the core data structures used throughout papertrader.
package models

import "time"

// Tick is a level-1 market data snapshot for one instrument.
type Tick struct {
	Symbol     string    `json:"symbol"`
	Exchange   Exchange  `json:"exchange"`
	Time       time.Time `json:"time"`
	LastPrice  float64   `json:"last_price"`
	OpenPrice  float64   `json:"open_price,omitempty"`
	HighPrice  float64   `json:"high_price,omitempty"`
	LowPrice   float64   `json:"low_price,omitempty"`
	PreClose   float64   `json:"pre_close,omitempty"`
	Volume     float64   `json:"volume,omitempty"`
	BidPrice1  float64   `json:"bid_price_1"`
	AskPrice1  float64   `json:"ask_price_1"`
	BidVolume1 float64   `json:"bid_volume_1"`
	AskVolume1 float64   `json:"ask_volume_1"`
}

// VTSymbol returns the exchange-qualified symbol of the tick.
func (t *Tick) VTSymbol() string {
	return t.Symbol + "." + string(t.Exchange)
}

// Bar represents a single candlestick bar of price data.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Exchange Exchange  `json:"exchange"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover,omitempty"`
}

// VTSymbol returns the exchange-qualified symbol of the bar.
func (b *Bar) VTSymbol() string {
	return b.Symbol + "." + string(b.Exchange)
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// RoundTrip is a completed entry/exit pair produced by a replay.
type RoundTrip struct {
	VTSymbol   string    `json:"vt_symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Volume     int       `json:"volume"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	HoldDays   int       `json:"hold_days"`
	Reason     string    `json:"reason"` // exit reason
}

// NewsArticle represents a single news article.
type NewsArticle struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SentimentScore holds the sentiment score for a single article.
type SentimentScore struct {
	Source      string    `json:"source"`
	Headline    string    `json:"headline"`
	Score       float64   `json:"score"`      // -1 (bearish) .. +1 (bullish)
	Confidence  float64   `json:"confidence"` // 0..1
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// AggregatedSentiment is the time-weighted sentiment for one symbol.
type AggregatedSentiment struct {
	Symbol       string           `json:"symbol"`
	Score        float64          `json:"score"`
	Confidence   float64          `json:"confidence"`
	Label        string           `json:"label"`
	ArticleCount int              `json:"article_count"`
	Sources      []SentimentScore `json:"sources,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}
