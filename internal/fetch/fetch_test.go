package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><h1>Test</h1></body></html>"))
	}))
	defer server.Close()

	result, err := URL(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, server.URL, result.URL)
	assert.Contains(t, result.HTML, "<h1>Test</h1>")
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "text/html", result.ContentType)
}

func TestURL_InvalidURL(t *testing.T) {
	for _, raw := range []string{"not-a-valid-url", "ftp://example.com/x", "file:///etc/passwd"} {
		_, err := URL(context.Background(), raw, nil)
		require.Error(t, err, raw)

		var fetchErr *Error
		assert.ErrorAs(t, err, &fetchErr)
		assert.Contains(t, err.Error(), "invalid URL")
	}
}

func TestURL_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result, err := URL(context.Background(), server.URL, nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Contains(t, err.Error(), "404")
}

func TestExtractMainText_StripsNoise(t *testing.T) {
	html := `<html><body>
		<nav>Navigation</nav>
		<main><h1>Main Content</h1><p>Body text.</p><script>var x;</script></main>
		<footer>Footer</footer>
	</body></html>`

	text, err := ExtractMainText(html, DefaultTextSelectors())
	require.NoError(t, err)
	assert.Contains(t, text, "Main Content")
	assert.Contains(t, text, "Body text.")
	assert.NotContains(t, text, "Navigation")
	assert.NotContains(t, text, "Footer")
	assert.NotContains(t, text, "var x")
}

func TestExtractMainText_FallsBackToBody(t *testing.T) {
	text, err := ExtractMainText(`<html><body><div>Only a div</div></body></html>`, DefaultTextSelectors())
	require.NoError(t, err)
	assert.Equal(t, "Only a div", text)
}

func TestExtractSections(t *testing.T) {
	html := `<html><head><title>Quarterly Study</title></head><body><article>
		<p>Lead paragraph.</p>
		<h2>Methodology</h2>
		<p>We measured things.</p>
		<ul><li>first <b>step</b></li><li>second step</li></ul>
		<h3>Data</h3>
		<p>Collected weekly.</p>
		<h2>Conclusion</h2>
		<p>It worked.</p>
		<h2>Empty</h2>
	</article></body></html>`

	sections, err := ExtractSections(html, DefaultTextSelectors())
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, "Quarterly Study", sections[0].Title)
	assert.Equal(t, "Lead paragraph.", sections[0].Body)

	assert.Equal(t, "Methodology", sections[1].Title)
	assert.Contains(t, sections[1].Body, "- first step\n- second step")
	assert.Contains(t, sections[1].Body, "### Data")

	assert.Equal(t, "Conclusion", sections[2].Title)
	assert.Equal(t, "It worked.", sections[2].Body)
}

func TestExtractSections_PlainBody(t *testing.T) {
	sections, err := ExtractSections(`<html><body><div>loose text</div></body></html>`, nil)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Introduction", sections[0].Title)
	assert.Equal(t, "loose text", sections[0].Body)
}

func TestShouldUseBrowser(t *testing.T) {
	assert.True(t, ShouldUseBrowser("   short   "))
	assert.False(t, ShouldUseBrowser(strings.Repeat("x", MinContentLength)))
}
