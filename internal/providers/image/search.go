// Package image finds stock photos for image templates and republishes
// them under the configured CDN.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/generation"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 20 * time.Second
	maxImageBytes  = 10 << 20
	providerName   = "pexels"
)

type Config struct {
	APIKey          string
	APIURL          string
	CDNClientID     string
	CDNClientSecret string
	CDNPublicURL    string
	Timeout         time.Duration
}

func (c Config) cdnEnabled() bool {
	return c.CDNPublicURL != "" && c.CDNClientID != ""
}

// Finder implements generation.ImageFinder against a Pexels-style search API.
type Finder struct {
	cfg    Config
	client *http.Client
	clock  clock.Clock
	log    *zap.Logger
}

// NewFromConfig returns nil when no search key is configured so image
// templates are skipped instead of failing.
func NewFromConfig(cfg config.Config, clk clock.Clock, log *zap.Logger) generation.ImageFinder {
	if strings.TrimSpace(cfg.Image.APIKey) == "" {
		return nil
	}
	return NewFinder(Config{
		APIKey:          cfg.Image.APIKey,
		APIURL:          cfg.Image.APIURL,
		CDNClientID:     cfg.Image.CDNClientID,
		CDNClientSecret: cfg.Image.CDNClientSecret,
		CDNPublicURL:    strings.TrimRight(cfg.Image.CDNPublicURL, "/"),
	}, clk, log)
}

func NewFinder(cfg Config, clk clock.Clock, log *zap.Logger) *Finder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Finder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		clock:  clk,
		log:    log.Named("image"),
	}
}

type searchResponse struct {
	Photos []photo `json:"photos"`
}

type photo struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	Alt          string `json:"alt"`
	Photographer string `json:"photographer"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Src          struct {
		Original string `json:"original"`
		Large2x  string `json:"large2x"`
		Large    string `json:"large"`
	} `json:"src"`
}

func (p photo) best() string {
	for _, candidate := range []string{p.Src.Large2x, p.Src.Large, p.Src.Original} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (f *Finder) FindImage(ctx context.Context, query string) (*generation.Image, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	hit, err := f.search(ctx, query)
	if err != nil || hit == nil {
		return nil, err
	}
	source := hit.best()
	if source == "" {
		return nil, nil
	}

	cdnURL := source
	if f.cfg.cdnEnabled() {
		cdnURL, err = f.publish(ctx, source)
		if err != nil {
			return nil, err
		}
	}
	alt := strings.TrimSpace(hit.Alt)
	if alt == "" {
		alt = query
	}
	return &generation.Image{
		SourceURL: source,
		CDNURL:    cdnURL,
		AltText:   alt,
		Meta: map[string]any{
			"provider":     providerName,
			"providerId":   hit.ID,
			"pageUrl":      hit.URL,
			"photographer": hit.Photographer,
			"width":        hit.Width,
			"height":       hit.Height,
		},
	}, nil
}

func (f *Finder) search(ctx context.Context, query string) (*photo, error) {
	endpoint, err := url.Parse(f.cfg.APIURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "image_api_url_invalid", err)
	}
	q := endpoint.Query()
	q.Set("query", query)
	q.Set("per_page", "1")
	q.Set("orientation", "landscape")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "image_request_invalid", err)
	}
	req.Header.Set("Authorization", f.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.Transient("image_search_unavailable", err)
	}
	defer resp.Body.Close()
	if err := statusError("image_search", resp); err != nil {
		return nil, err
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, apperr.Transient("image_search_malformed", err)
	}
	if len(body.Photos) == 0 {
		f.log.Debug("no image matched", zap.String("query", query))
		return nil, nil
	}
	return &body.Photos[0], nil
}

// publish copies the picture into the CDN bucket and returns its public URL.
func (f *Finder) publish(ctx context.Context, source string) (string, error) {
	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "image_source_invalid", err)
	}
	resp, err := f.client.Do(getReq)
	if err != nil {
		return "", apperr.Transient("image_download_failed", err)
	}
	defer resp.Body.Close()
	if err := statusError("image_download", resp); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", apperr.Transient("image_download_failed", err)
	}

	key := f.objectKey(source)
	target := f.cfg.CDNPublicURL + "/" + key
	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "image_upload_invalid", err)
	}
	putReq.SetBasicAuth(f.cfg.CDNClientID, f.cfg.CDNClientSecret)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	putReq.Header.Set("Content-Type", contentType)

	upload, err := f.client.Do(putReq)
	if err != nil {
		return "", apperr.Transient("image_upload_failed", err)
	}
	defer upload.Body.Close()
	if err := statusError("image_upload", upload); err != nil {
		return "", err
	}
	return target, nil
}

func (f *Finder) objectKey(source string) string {
	ext := ".jpg"
	if u, err := url.Parse(source); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	now := time.Now()
	if f.clock != nil {
		now = f.clock.Now()
	}
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return fmt.Sprintf("images/%s/%s%s", now.UTC().Format("2006/01"), strings.ToLower(id.String()), ext)
}

func statusError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return apperr.Transient(op+"_unavailable", fmt.Errorf("%s: %s", op, resp.Status))
	default:
		return apperr.New(apperr.KindInternal, op+"_rejected", fmt.Sprintf("%s: %s", op, resp.Status))
	}
}
