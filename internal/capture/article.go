package capture

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// ArticleFetcher imports a how-to page as plain instruction text.
type ArticleFetcher struct {
	UserAgent string
	Client    *http.Client
}

func NewArticleFetcher() *ArticleFetcher {
	return &ArticleFetcher{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch returns the page title and its main text content.
func (f *ArticleFetcher) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse article: %w", err)
	}

	text := StripHTML(article.TextContent)
	if len(text) > 50000 {
		text = text[:50000]
	}
	return strings.TrimSpace(article.Title), text, nil
}

var strictPolicy = bluemonday.StrictPolicy()

// StripHTML removes every tag, keeping text content.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// looksLikeURL reports whether s is a single http(s) URL.
func looksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, " \n\t") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && StripHTML(s) != strings.TrimSpace(s)
}
