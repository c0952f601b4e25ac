// Package fetch retrieves HTML content sources and reduces them to text sections.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; docpipeline/1.0)"

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 10 << 20

// Result holds the raw content from a URL fetch.
type Result struct {
	URL         string
	HTML        string
	ContentType string
	StatusCode  int
}

// Error represents an error during URL fetching.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	Client    *http.Client
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// URL retrieves content from an http(s) URL. On a non-200 status the result is
// returned together with the error.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Cause: err}
	}

	result := &Result{
		URL:         urlStr,
		HTML:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return result, &Error{URL: urlStr, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	return result, nil
}

const noiseSelector = "nav, footer, header, script, style, noscript, aside, form, .ad, .advertisement, .ads, .sidebar, .cookie-banner, .popup"

// DefaultTextSelectors returns selectors for the main content of a document page.
func DefaultTextSelectors() []string {
	return []string{
		"main",
		"article",
		"[role='main']",
		".content",
		"#content",
		".main-content",
		"#main-content",
	}
}

// mainContent parses HTML, strips noise and returns the first matching content
// root, falling back to body.
func mainContent(html string, contentSelectors []string) (*goquery.Document, *goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	for _, selector := range contentSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			return doc, selection.First(), nil
		}
	}
	return doc, doc.Find("body"), nil
}

// ExtractMainText parses HTML and returns the main body text.
func ExtractMainText(html string, contentSelectors []string) (string, error) {
	_, main, err := mainContent(html, contentSelectors)
	if err != nil {
		return "", err
	}
	return cleanWhitespace(main.Text()), nil
}

// Section is one heading-delimited part of an HTML document, rendered as markdown.
type Section struct {
	Title string
	Body  string
}

// ExtractSections splits the main content at h1/h2 headings and renders each part as
// markdown (h3 to h6 become ### headings, li become "- " bullets). Text before the first
// heading becomes a section titled after the page title.
func ExtractSections(html string, contentSelectors []string) ([]Section, error) {
	doc, main, err := mainContent(html, contentSelectors)
	if err != nil {
		return nil, err
	}

	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if pageTitle == "" {
		pageTitle = "Introduction"
	}

	var sections []Section
	current := Section{Title: pageTitle}
	var body strings.Builder
	flush := func() {
		current.Body = strings.TrimSpace(body.String())
		if current.Body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	main.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested matches are rendered by their outermost block
		if s.ParentsFiltered("p, li, pre, blockquote").Length() > 0 {
			return
		}
		text := cleanWhitespace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2":
			flush()
			current = Section{Title: text}
		case "h3", "h4", "h5", "h6":
			body.WriteString("### " + text + "\n\n")
		case "li":
			body.WriteString("- " + strings.ReplaceAll(text, "\n", " ") + "\n")
		default:
			body.WriteString(text + "\n\n")
		}
	})
	flush()

	if len(sections) == 0 {
		text := cleanWhitespace(main.Text())
		if text != "" {
			sections = append(sections, Section{Title: pageTitle, Body: text})
		}
	}
	return sections, nil
}

// cleanWhitespace trims every line and drops empty ones.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
