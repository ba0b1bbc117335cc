package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

const defaultUserAgent = "searchlight/1.0 (+https://github.com/koopa0/searchlight)"

// CollyFetcher fetches pages with colly and extracts readable article text
// with go-readability. A fresh collector is created per fetch; collectors
// carry per-visit state (the visited-URL set) that must not leak between
// pages of the same crawl.
type CollyFetcher struct {
	userAgent string
}

// NewCollyFetcher creates a fetcher. An empty userAgent uses the default.
func NewCollyFetcher(userAgent string) *CollyFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &CollyFetcher{userAgent: userAgent}
}

// Fetch retrieves one page and returns its extracted title, text content and
// outbound links. The context deadline bounds the HTTP request.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxDepth(1),
	)
	if deadline, ok := ctx.Deadline(); ok {
		c.SetRequestTimeout(time.Until(deadline))
	}

	page := &Page{URL: pageURL}
	var (
		body     []byte
		finalURL *url.URL
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link != "" {
			page.Links = append(page.Links, link)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("fetching %s: status %d: %w", pageURL, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("fetching %s: %w", pageURL, err)
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("visiting %s: %w", pageURL, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetching %s: empty response body", pageURL)
	}

	title, content, err := extractReadable(body, finalURL)
	if err != nil {
		return nil, fmt.Errorf("extracting content from %s: %w", pageURL, err)
	}
	page.Title = title
	page.Content = content
	return page, nil
}

// extractReadable runs readability over the raw HTML and falls back to the
// stripped document text when no article can be identified (index pages,
// navigation-only pages).
func extractReadable(body []byte, pageURL *url.URL) (title, content string, err error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", "", err
	}
	content = strings.TrimSpace(article.TextContent)
	if content == "" {
		return "", "", fmt.Errorf("no readable content")
	}
	return article.Title, content, nil
}
