package sentiment

import (
	"math"
	"strings"
	"time"

	"github.com/seenimoa/papertrader/pkg/models"
)

// ------------------------------------------------------------------
// Keyword-based sentiment scorer. Deterministic and offline; weights are
// per keyword and matched as substrings, which works for both English
// and Chinese headlines.
// ------------------------------------------------------------------

var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "upbeat": 0.5,
	"upgrade": 0.6, "outperform": 0.6, "record high": 0.7, "beats estimate": 0.6,
	"growth": 0.4, "recovery": 0.5, "breakout": 0.6, "dividend": 0.4,
	"buyback": 0.5, "profit rise": 0.6,

	"利好": 0.7, "上涨": 0.5, "大涨": 0.7, "涨停": 0.8, "增长": 0.4,
	"超预期": 0.6, "增持": 0.6, "回购": 0.5, "分红": 0.4, "突破": 0.5,
	"创新高": 0.7, "盈利": 0.4, "中标": 0.5, "扭亏": 0.6, "预增": 0.6,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "slump": 0.6,
	"downgrade": 0.6, "underperform": 0.6, "selloff": 0.7, "decline": 0.5,
	"default": 0.7, "fraud": 0.8, "investigation": 0.5, "warning": 0.5,
	"loss": 0.4, "miss": 0.5,

	"利空": 0.7, "下跌": 0.5, "大跌": 0.7, "跌停": 0.8, "亏损": 0.5,
	"减持": 0.6, "违规": 0.6, "处罚": 0.6, "立案": 0.8, "退市": 0.9,
	"预亏": 0.6, "下滑": 0.4, "爆雷": 0.8, "质押": 0.3,
}

// Label thresholds on the aggregate score.
const (
	strongThreshold = 0.3
	weakThreshold   = 0.1
)

// halfLife is the age at which an article's weight halves.
const halfLife = 24 * time.Hour

// ScoreHeadline returns a score in [-1, 1] (bearish to bullish) and a
// confidence in [0.1, 0.85] that grows with the number of keyword hits.
func ScoreHeadline(headline string) (score, confidence float64) {
	lower := strings.ToLower(headline)

	var bull, bear float64
	matches := 0
	for word, weight := range bullishWords {
		if strings.Contains(lower, word) {
			bull += weight
			matches++
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(lower, word) {
			bear += weight
			matches++
		}
	}

	if matches == 0 || bull+bear == 0 {
		return 0, 0.1
	}
	score = (bull - bear) / (bull + bear)
	confidence = math.Min(float64(matches)*0.15+0.2, 0.85)
	return score, confidence
}

// ScoreArticle scores the title and summary of an article.
func ScoreArticle(a models.NewsArticle) models.SentimentScore {
	text := a.Title
	if a.Summary != "" {
		text += " " + a.Summary
	}
	score, confidence := ScoreHeadline(text)
	return models.SentimentScore{
		Source:      a.Source,
		Headline:    a.Title,
		Score:       score,
		Confidence:  confidence,
		URL:         a.URL,
		PublishedAt: a.PublishedAt,
	}
}

// Aggregate combines scores weighted by confidence and by age, halving an
// article's weight every 24 hours before now.
func Aggregate(symbol string, scores []models.SentimentScore, now time.Time) models.AggregatedSentiment {
	if len(scores) == 0 {
		return models.AggregatedSentiment{Symbol: symbol, Label: Label(0), Timestamp: now}
	}

	var weighted, total, conf float64
	for _, s := range scores {
		age := now.Sub(s.PublishedAt)
		if age < 0 || s.PublishedAt.IsZero() {
			age = 0
		}
		w := math.Exp(-math.Ln2*age.Hours()/halfLife.Hours()) * s.Confidence
		weighted += s.Score * w
		total += w
		conf += s.Confidence
	}

	avg := 0.0
	if total > 0 {
		avg = weighted / total
	}
	return models.AggregatedSentiment{
		Symbol:       symbol,
		Score:        avg,
		Confidence:   conf / float64(len(scores)),
		Label:        Label(avg),
		ArticleCount: len(scores),
		Sources:      scores,
		Timestamp:    now,
	}
}

// Label names an aggregate score.
func Label(score float64) string {
	switch {
	case score > strongThreshold:
		return "Bullish"
	case score > weakThreshold:
		return "Slightly Bullish"
	case score < -strongThreshold:
		return "Bearish"
	case score < -weakThreshold:
		return "Slightly Bearish"
	default:
		return "Neutral"
	}
}

// Normalize maps a score in [-1, 1] to [0, 1], with 0.5 neutral.
func Normalize(score float64) float64 {
	return math.Max(0, math.Min(1, (score+1)/2))
}
