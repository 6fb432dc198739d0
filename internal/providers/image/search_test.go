package image

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stockServer struct {
	*httptest.Server
	mu       sync.Mutex
	uploads  map[string][]byte
	auth     string
	status   int
	noPhotos bool
}

func newStockServer(t *testing.T) *stockServer {
	t.Helper()
	s := &stockServer{uploads: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, noPhotos := s.status, s.noPhotos
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if r.Header.Get("Authorization") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body := map[string]any{"photos": []any{}}
		if !noPhotos {
			body["photos"] = []any{map[string]any{
				"id":           42,
				"url":          s.URL + "/photo/42",
				"alt":          "Sunrise " + r.URL.Query().Get("query"),
				"photographer": "Ana",
				"width":        1600,
				"height":       900,
				"src":          map[string]any{"large": s.URL + "/files/42.png"},
			}}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/files/42.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.auth = user + ":" + pass
		s.uploads[strings.TrimPrefix(r.URL.Path, "/cdn/")] = data
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *stockServer) set(status int, noPhotos bool) {
	s.mu.Lock()
	s.status, s.noPhotos = status, noPhotos
	s.mu.Unlock()
}

func fakeClock() *clock.FakeClock {
	return clock.NewFakeClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
}

func TestFindImageWithoutCDNUsesSourceURL(t *testing.T) {
	srv := newStockServer(t)
	f := NewFinder(Config{APIKey: "key-1", APIURL: srv.URL + "/v1/search"}, fakeClock(), zap.NewNop())

	img, err := f.FindImage(context.Background(), "hope")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, srv.URL+"/files/42.png", img.SourceURL)
	assert.Equal(t, img.SourceURL, img.CDNURL)
	assert.Equal(t, "Sunrise hope", img.AltText)
	assert.Equal(t, "Ana", img.Meta["photographer"])
}

func TestFindImagePublishesToCDN(t *testing.T) {
	srv := newStockServer(t)
	f := NewFinder(Config{
		APIKey:          "key-1",
		APIURL:          srv.URL + "/v1/search",
		CDNClientID:     "cdn-id",
		CDNClientSecret: "cdn-secret",
		CDNPublicURL:    srv.URL + "/cdn",
	}, fakeClock(), zap.NewNop())

	img, err := f.FindImage(context.Background(), "hope")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.True(t, strings.HasPrefix(img.CDNURL, srv.URL+"/cdn/images/2026/05/"))
	assert.True(t, strings.HasSuffix(img.CDNURL, ".png"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "cdn-id:cdn-secret", srv.auth)
	require.Len(t, srv.uploads, 1)
	for _, data := range srv.uploads {
		assert.Equal(t, "png-bytes", string(data))
	}
}

func TestFindImageNoMatch(t *testing.T) {
	srv := newStockServer(t)
	srv.set(0, true)
	f := NewFinder(Config{APIKey: "key-1", APIURL: srv.URL + "/v1/search"}, fakeClock(), zap.NewNop())

	img, err := f.FindImage(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, img)

	img, err = f.FindImage(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestFindImageErrorKinds(t *testing.T) {
	srv := newStockServer(t)
	f := NewFinder(Config{APIKey: "key-1", APIURL: srv.URL + "/v1/search"}, fakeClock(), zap.NewNop())

	srv.set(http.StatusTooManyRequests, false)
	_, err := f.FindImage(context.Background(), "hope")
	assert.True(t, apperr.IsKind(err, apperr.KindTransientUpstream))

	srv.set(0, false)
	bad := NewFinder(Config{APIKey: "wrong", APIURL: srv.URL + "/v1/search"}, fakeClock(), zap.NewNop())
	_, err = bad.FindImage(context.Background(), "hope")
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	assert.Equal(t, "image_search_rejected", apperr.CodeOf(err))
}

func TestNewFromConfigWithoutKeyDisablesImages(t *testing.T) {
	assert.Nil(t, NewFromConfig(config.Config{}, fakeClock(), zap.NewNop()))
	assert.NotNil(t, NewFromConfig(config.Config{Image: config.ImageConfig{APIKey: "k"}}, fakeClock(), zap.NewNop()))
}
