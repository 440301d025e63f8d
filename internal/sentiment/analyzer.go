// Package sentiment scores news headlines for A-share symbols. Articles come
// from RSS/Atom feeds or are added directly; scores are keyword based and
// aggregated with a 24 hour half-life.
package sentiment

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seenimoa/papertrader/internal/infra"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// maxArticles caps the in-memory article pool.
const maxArticles = 2000

// SourcesFromURLs names each feed URL after its host.
func SourcesFromURLs(urls []string) []Source {
	out := make([]Source, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name := raw
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			name = u.Host
		}
		out = append(out, Source{Name: name, URL: raw})
	}
	return out
}

// Analyzer produces per-symbol sentiment from a pool of articles.
type Analyzer struct {
	fetcher *Fetcher // nil means only added articles are used
	cache   *infra.Cache[models.AggregatedSentiment]
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	articles []models.NewsArticle
	aliases  map[string][]string // vt_symbol -> extra keywords, e.g. company name
	fetched  time.Time
	ttl      time.Duration
}

// NewAnalyzer returns an analyzer. fetcher may be nil.
func NewAnalyzer(fetcher *Fetcher, cacheSize int, ttl time.Duration, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	a := &Analyzer{
		fetcher: fetcher,
		logger:  logger.With("component", "sentiment"),
		now:     time.Now,
		aliases: make(map[string][]string),
		ttl:     ttl,
	}
	a.cache = infra.NewCache[models.AggregatedSentiment](cacheSize, ttl).WithClock(func() time.Time { return a.now() })
	return a
}

// SetAlias registers extra keywords that identify a symbol in headlines.
func (a *Analyzer) SetAlias(vtSymbol string, keywords ...string) {
	a.mu.Lock()
	a.aliases[vtSymbol] = append([]string(nil), keywords...)
	a.mu.Unlock()
	a.cache.Invalidate(vtSymbol)
}

// AddArticles adds articles to the pool and drops cached results.
func (a *Analyzer) AddArticles(articles ...models.NewsArticle) {
	a.mu.Lock()
	a.articles = append(a.articles, articles...)
	SortByDate(a.articles)
	if len(a.articles) > maxArticles {
		a.articles = a.articles[:maxArticles]
	}
	a.mu.Unlock()
	a.cache.Flush()
}

// Refresh fetches feeds if the pool is older than the cache TTL.
func (a *Analyzer) Refresh(ctx context.Context) error {
	if a.fetcher == nil {
		return nil
	}
	a.mu.RLock()
	fresh := !a.fetched.IsZero() && a.now().Sub(a.fetched) < a.ttl
	a.mu.RUnlock()
	if fresh {
		return nil
	}

	articles, err := a.fetcher.FetchAll(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.fetched = a.now()
	a.mu.Unlock()
	a.AddArticles(articles...)
	a.logger.Debug("news refreshed", "articles", len(articles))
	return nil
}

// SymbolSentiment returns the aggregated sentiment for vtSymbol. A feed
// failure is logged and the existing pool is used.
func (a *Analyzer) SymbolSentiment(ctx context.Context, vtSymbol string) models.AggregatedSentiment {
	if err := a.Refresh(ctx); err != nil {
		a.logger.Warn("news refresh failed", "error", err)
	}
	if s, ok := a.cache.Get(vtSymbol); ok {
		return s
	}

	a.mu.RLock()
	keywords := a.keywordsFor(vtSymbol)
	var scores []models.SentimentScore
	for _, art := range a.articles {
		if matchesAny(art.Title+" "+art.Summary, keywords) {
			scores = append(scores, ScoreArticle(art))
		}
	}
	a.mu.RUnlock()

	s := Aggregate(vtSymbol, scores, a.now())
	a.cache.Set(vtSymbol, s)
	return s
}

// Score returns the sentiment of vtSymbol on a 0..1 scale, 0.5 neutral.
func (a *Analyzer) Score(ctx context.Context, vtSymbol string) float64 {
	return Normalize(a.SymbolSentiment(ctx, vtSymbol).Score)
}

// ScoreBatch scores several symbols.
func (a *Analyzer) ScoreBatch(ctx context.Context, vtSymbols []string) map[string]float64 {
	out := make(map[string]float64, len(vtSymbols))
	for _, s := range vtSymbols {
		out[s] = a.Score(ctx, s)
	}
	return out
}

// keywordsFor must be called with mu held.
func (a *Analyzer) keywordsFor(vtSymbol string) []string {
	code := vtSymbol
	if sym, _, err := utils.SplitVTSymbol(vtSymbol); err == nil {
		code = sym
	}
	keywords := []string{strings.ToLower(utils.NormalizeSymbol(code))}
	for _, k := range a.aliases[vtSymbol] {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, strings.ToLower(k))
		}
	}
	return keywords
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
