package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/source/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Herald</title>
  <link>%[1]s</link>
  <item>
    <title>Hope rises</title>
    <link>%[1]s/hope</link>
    <description><![CDATA[<p>A <b>short</b> teaser.</p>]]></description>
    <pubDate>Mon, 04 May 2026 07:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Long read</title>
    <link>%[1]s/long</link>
    <description><![CDATA[<p>%[2]s</p>]]></description>
  </item>
  <item>
    <title></title>
    <link>%[1]s/untitled</link>
  </item>
</channel>
</rss>`

func paragraph(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate, srv.URL, paragraph("grace", 150))
	})
	mux.HandleFunc("/hope", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Hope rises</title></head><body>
<nav>Home | World</nav>
<article><h1>Hope rises</h1>
<p>%s</p>
<p>%s</p>
<p>%s</p>
</article></body></html>`, paragraph("hope", 120), paragraph("light", 120), paragraph("dawn", 120))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchParsesFeedAndFillsFullText(t *testing.T) {
	srv := newServer(t)
	rss := srv.URL + "/feed"
	f := NewFeedFetcher(Config{FullText: true}, zap.NewNop())

	items, err := f.Fetch(context.Background(), domain.Source{URL: srv.URL, RSSURL: &rss})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Hope rises", items[0].Title)
	assert.Equal(t, srv.URL+"/hope", items[0].URL)
	assert.Contains(t, items[0].FullText, "hope hope")
	assert.Greater(t, len(items[0].FullText), fullTextThreshold)
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, 2026, items[0].PublishedAt.Year())

	assert.Equal(t, "Long read", items[1].Title)
	assert.Equal(t, paragraph("grace", 150), items[1].FullText)
	assert.Nil(t, items[1].PublishedAt)
}

func TestFetchWithoutFullTextKeepsTeaser(t *testing.T) {
	srv := newServer(t)
	rss := srv.URL + "/feed"
	f := NewFeedFetcher(Config{MaxPerFeed: 1}, zap.NewNop())

	items, err := f.Fetch(context.Background(), domain.Source{URL: srv.URL, RSSURL: &rss})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A short teaser.", items[0].FullText)
}

func TestFetchFailureIsTransient(t *testing.T) {
	srv := newServer(t)
	f := NewFeedFetcher(Config{}, zap.NewNop())

	_, err := f.Fetch(context.Background(), domain.Source{URL: srv.URL + "/broken"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransientUpstream))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "", stripHTML("  "))
	assert.Equal(t, "plain text", stripHTML(" plain \n text "))
	assert.Equal(t, "Hello world", stripHTML("<p>Hello <script>x()</script><em>world</em></p>"))
}
