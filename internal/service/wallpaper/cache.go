// Package wallpaper serves the Bing daily image with a per-market cache.
package wallpaper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultMarket = "en-US"
	cacheTTL      = 6 * time.Hour
	fetchTimeout  = 10 * time.Second

	archiveURL = "https://www.bing.com/HPImageArchive.aspx?format=js&idx=0&n=1&mkt="
	userAgent  = "berth/1.0 (+https://github.com/tidemark/berth)"
)

var marketPattern = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// Image is the wallpaper payload returned to clients.
type Image struct {
	Provider  string `json:"provider"`
	Market    string `json:"mkt"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Copyright string `json:"copyright"`
}

type entry struct {
	fetchedAt time.Time
	image     Image
}

// Cache fetches the daily wallpaper and keeps one entry per market for the
// TTL. A failed refresh falls back to the stale entry when one exists.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	client  *http.Client
	baseURL string
	now     func() time.Time
	logger  *slog.Logger
}

// New returns a cache using the default HTTP client.
func New(logger *slog.Logger) *Cache {
	if logger != nil {
		logger = logger.With("component", "wallpaper")
	}
	return &Cache{
		entries: map[string]entry{},
		client:  &http.Client{Timeout: fetchTimeout},
		baseURL: archiveURL,
		now:     time.Now,
		logger:  logger,
	}
}

// Get returns the wallpaper for the market, refreshing when the cached entry
// is older than the TTL.
func (c *Cache) Get(ctx context.Context, market string) (Image, error) {
	market = sanitizeMarket(market)
	now := c.now()

	c.mu.Lock()
	cached, ok := c.entries[market]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < cacheTTL {
		return cached.image, nil
	}

	image, err := c.fetch(ctx, market)
	if err != nil {
		if ok {
			if c.logger != nil {
				c.logger.Warn("wallpaper refresh failed, serving stale entry",
					"mkt", market, "error", err)
			}
			return cached.image, nil
		}
		return Image{}, err
	}

	c.mu.Lock()
	c.entries[market] = entry{fetchedAt: now, image: image}
	c.mu.Unlock()
	return image, nil
}

func (c *Cache) fetch(ctx context.Context, market string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+market, nil)
	if err != nil {
		return Image{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("wallpaper upstream returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Image{}, err
	}

	var payload struct {
		Images []struct {
			URL       string `json:"url"`
			Title     string `json:"title"`
			Copyright string `json:"copyright"`
		} `json:"images"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Image{}, fmt.Errorf("decoding wallpaper response: %w", err)
	}
	if len(payload.Images) == 0 {
		return Image{}, fmt.Errorf("wallpaper upstream returned no images")
	}
	relative := strings.TrimSpace(payload.Images[0].URL)
	if relative == "" {
		return Image{}, fmt.Errorf("wallpaper image URL is missing")
	}
	url := relative
	if !strings.HasPrefix(url, "http") {
		url = "https://www.bing.com" + relative
	}
	return Image{
		Provider:  "bing",
		Market:    market,
		URL:       url,
		Title:     strings.TrimSpace(payload.Images[0].Title),
		Copyright: strings.TrimSpace(payload.Images[0].Copyright),
	}, nil
}

func sanitizeMarket(value string) string {
	raw := strings.TrimSpace(value)
	if marketPattern.MatchString(raw) {
		return raw
	}
	return defaultMarket
}
