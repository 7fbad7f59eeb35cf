// Package fetch retrieves web pages for the web_fetch and search_web
// skills and reduces them to readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/jarvis-core/internal/httpkit"
)

// DefaultTimeout bounds a single page fetch.
const DefaultTimeout = 30 * time.Second

// Connect failures (refused, unreachable) are retried this many times.
const (
	DefaultRetries    = 2
	DefaultRetryDelay = 500 * time.Millisecond
)

// DefaultMaxBytes caps the response body read (5 MB).
const DefaultMaxBytes int64 = 5 << 20

// DefaultMaxChars caps the extracted text returned to callers.
const DefaultMaxChars = 20000

// DefaultSearchEndpoint is an HTML-only search front end whose result
// page is a plain list of links.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// Page is the readable content of one URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Link is one search hit.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Options configures a [Reader].
type Options struct {
	Client         *http.Client
	MaxBytes       int64
	SearchEndpoint string
	Logger         *slog.Logger
}

// Reader fetches and extracts pages.
type Reader struct {
	client   *http.Client
	maxBytes int64
	search   string
	logger   *slog.Logger
}

// New creates a reader. Zero options get package defaults.
func New(opts Options) *Reader {
	r := &Reader{
		client:   opts.Client,
		maxBytes: opts.MaxBytes,
		search:   opts.SearchEndpoint,
		logger:   opts.Logger,
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxBytes
	}
	if r.search == "" {
		r.search = DefaultSearchEndpoint
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.client == nil {
		r.client = httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(DefaultRetries, DefaultRetryDelay),
			httpkit.WithLogger(r.logger),
		)
	}
	return r
}

// NormalizeURL adds an https scheme to bare host names and rejects
// anything that is not http or https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// Fetch downloads rawURL and extracts its readable text, truncated to
// maxChars runes (0 means [DefaultMaxChars]). Non-2xx responses are
// errors satisfying StatusCode().
func (r *Reader) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	resp, body, err := r.get(ctx, u)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	page := &Page{URL: u, ContentType: ct, StatusCode: resp.StatusCode}
	switch {
	case isHTML(ct):
		page.Title, page.Content = extractHTML(string(body))
	case utf8.Valid(body):
		page.Content = string(body)
	default:
		page.Content = fmt.Sprintf("binary content (%s), %d bytes", ct, len(body))
	}

	if cut, ok := truncateRunes(page.Content, maxChars); ok {
		page.Content = cut
		page.Truncated = true
	}
	r.logger.Debug("page fetched", "url", u, "status", resp.StatusCode, "chars", len(page.Content), "truncated", page.Truncated)
	return page, nil
}

// Search queries the search endpoint and returns up to limit result
// links.
func (r *Reader) Search(ctx context.Context, query string, limit int) ([]Link, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	u, err := url.Parse(r.search)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	_, body, err := r.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	links := extractLinks(string(body), u)
	if len(links) > limit {
		links = links[:limit]
	}
	r.logger.Debug("web search", "query", query, "results", len(links))
	return links, nil
}

func (r *Reader) get(ctx context.Context, u string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", u, err)
	}
	if err := httpkit.CheckResponse(resp); err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", u, err)
	}
	return resp, body, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateRunes cuts s to at most n runes without splitting one.
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
