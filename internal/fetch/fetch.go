// Package fetch downloads a web page and reduces it to readable text
// for the fetch_page tool.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/studywithme/internal/httpkit"
)

const (
	// DefaultTimeout bounds one page download.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxBytes caps how much of a response body is read.
	DefaultMaxBytes int64 = 2 << 20
	// DefaultMaxChars caps the extracted text handed to the model.
	DefaultMaxChars = 4000
)

// ErrBadURL is returned for input that is not an absolute http(s) URL.
var ErrBadURL = errors.New("fetch: not an http(s) url")

// Page is the extracted content of one URL.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
	StatusCode  int
	Truncated   bool
}

// OK reports whether the server answered with a 2xx status.
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Fetcher downloads pages through a shared [httpkit] client.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// New returns a Fetcher that truncates extracted text to maxChars
// runes (DefaultMaxChars when maxChars <= 0).
func New(maxChars int) *Fetcher {
	return NewWithClient(httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)), maxChars)
}

// NewWithClient is [New] with a caller-supplied client.
func NewWithClient(client *http.Client, maxChars int) *Fetcher {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxBytes, maxChars: maxChars}
}

// NormalizeURL trims the input and adds https:// to bare host names.
// Anything that still is not an absolute http(s) URL yields ErrBadURL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrBadURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrBadURL
	}
	return u.String(), nil
}

// Fetch downloads rawURL and extracts its text. A non-2xx answer is
// not an error: the page is returned with its status so the caller can
// describe it. Errors are reserved for bad input and transport failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	page := &Page{
		URL:         target,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if !page.OK() {
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	ct := strings.ToLower(page.ContentType)
	switch {
	case strings.Contains(ct, "html"):
		page.Title, page.Text = Extract(string(body))
	case utf8.Valid(body):
		page.Text = strings.TrimSpace(string(body))
	default:
		page.Text = fmt.Sprintf("(binary content, %d bytes)", len(body))
	}

	page.Text, page.Truncated = truncateRunes(page.Text, f.maxChars)
	return page, nil
}

// truncateRunes cuts s to at most n runes.
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
