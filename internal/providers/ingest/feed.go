// Package ingest pulls candidate stories from RSS/Atom feeds and fills in
// article text with a readability pass when the feed only carries a teaser.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/source/domain"
	"go.uber.org/zap"
)

const (
	defaultMaxPerFeed = 20
	defaultTimeout    = 15 * time.Second
	maxPageBytes      = 4 << 20
	// feeds carrying at least this much text skip the page fetch
	fullTextThreshold = 500
)

var errEmptyFeed = errors.New("ingest: feed has no items")

type Config struct {
	MaxPerFeed int
	Timeout    time.Duration
	FullText   bool
	UserAgent  string
}

// FeedFetcher implements the source fetcher on top of gofeed.
type FeedFetcher struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func NewFromConfig(cfg config.Config, log *zap.Logger) domain.Fetcher {
	return NewFeedFetcher(Config{
		MaxPerFeed: cfg.Ingest.MaxPerFeed,
		Timeout:    cfg.Ingest.FetchTimeout,
		FullText:   cfg.Ingest.FullText,
		UserAgent:  cfg.Ingest.UserAgent,
	}, log)
}

func NewFeedFetcher(cfg Config, log *zap.Logger) *FeedFetcher {
	if cfg.MaxPerFeed <= 0 {
		cfg.MaxPerFeed = defaultMaxPerFeed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedFetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		log: log.Named("ingest"),
	}
}

func (f *FeedFetcher) Fetch(ctx context.Context, src domain.Source) ([]domain.FetchedArticle, error) {
	feedURL := src.URL
	if src.RSSURL != nil && strings.TrimSpace(*src.RSSURL) != "" {
		feedURL = strings.TrimSpace(*src.RSSURL)
	}

	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.cfg.UserAgent

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, apperr.Transient("feed_unavailable", fmt.Errorf("parse feed %s: %w", feedURL, err))
	}
	if len(feed.Items) == 0 {
		f.log.Debug("feed has no items", zap.String("source_id", src.ID.String()), zap.Error(errEmptyFeed))
		return nil, nil
	}

	out := make([]domain.FetchedArticle, 0, min(len(feed.Items), f.cfg.MaxPerFeed))
	for _, item := range feed.Items {
		if len(out) >= f.cfg.MaxPerFeed {
			break
		}
		article, ok := fromItem(item)
		if !ok {
			continue
		}
		if f.cfg.FullText && len(article.FullText) < fullTextThreshold {
			text, err := f.fetchText(ctx, article.URL)
			if err != nil {
				f.log.Debug("full text fetch failed", zap.String("url", article.URL), zap.Error(err))
			} else if len(text) > len(article.FullText) {
				article.FullText = text
			}
		}
		out = append(out, article)
	}
	return out, nil
}

func fromItem(item *gofeed.Item) (domain.FetchedArticle, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return domain.FetchedArticle{}, false
	}
	if u, err := url.Parse(link); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.FetchedArticle{}, false
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	article := domain.FetchedArticle{
		Title:    title,
		URL:      link,
		FullText: stripHTML(body),
	}
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		article.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		article.PublishedAt = &t
	}
	return article, true
}

func (f *FeedFetcher) fetchText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: %s", pageURL, resp.Status)
	}

	parsed, _ := url.Parse(pageURL)
	page, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), parsed)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(page.TextContent), " "), nil
}

// stripHTML flattens feed markup to plain text.
func stripHTML(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
