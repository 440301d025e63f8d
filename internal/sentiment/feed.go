package sentiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/papertrader/internal/infra"
	"github.com/seenimoa/papertrader/pkg/models"
)

// Source is an RSS or Atom feed.
type Source struct {
	Name string `mapstructure:"name" json:"name"`
	URL  string `mapstructure:"url"  json:"url"`
}

// Fetcher pulls articles from feeds through a shared rate limiter.
type Fetcher struct {
	sources []Source
	limiter *infra.RateLimiter
	logger  *slog.Logger
}

// NewFetcher returns a fetcher over sources.
func NewFetcher(sources []Source, limiter *infra.RateLimiter, logger *slog.Logger) *Fetcher {
	if limiter == nil {
		limiter = infra.PerSecond(2)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{sources: sources, limiter: limiter, logger: logger.With("component", "news")}
}

// FetchAll fetches every source concurrently and returns the articles
// newest first. A failing source is logged and skipped.
func (f *Fetcher) FetchAll(ctx context.Context) ([]models.NewsArticle, error) {
	var (
		mu  sync.Mutex
		all []models.NewsArticle
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, src := range f.sources {
		src := src
		g.Go(func() error {
			articles, err := f.fetch(ctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn("feed fetch failed", "source", src.Name, "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, articles...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortByDate(all)
	return all, nil
}

func (f *Fetcher) fetch(ctx context.Context, src Source) ([]models.NewsArticle, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.Name, err)
	}
	return articlesFrom(feed, src.Name), nil
}

// ParseFeed parses an RSS or Atom document into articles attributed to
// source.
func ParseFeed(r io.Reader, source string) ([]models.NewsArticle, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source, err)
	}
	return articlesFrom(feed, source), nil
}

func articlesFrom(feed *gofeed.Feed, source string) []models.NewsArticle {
	out := make([]models.NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.NewsArticle{
			Title:   strings.TrimSpace(item.Title),
			URL:     item.Link,
			Source:  source,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			a.PublishedAt = *item.UpdatedParsed
		}
		out = append(out, a)
	}
	return out
}

// cleanHTML strips tags from a feed description.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// SortByDate sorts articles newest first.
func SortByDate(articles []models.NewsArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
}
