package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/fetcher"
)

const articlePage = `<!doctype html>
<html>
<head><title>Acme</title><style>p { color: red }</style></head>
<body>
  <header><a href="/">Home</a></header>
  <nav><ul><li>Markets</li><li>Deals</li></ul></nav>
  <article>
    <h1>Acme   Labs raises $10M</h1>
    <p>Acme <b>Labs</b>, a fintech startup,
       raised $10 million.</p>
    <script>track("view")</script>
    <p>The round was led by Foo Ventures.<br>More soon.</p>
    <!-- comment -->
  </article>
  <aside>Related: other news</aside>
  <footer>Copyright</footer>
</body>
</html>`

func text(t *testing.T, e *Extractor, page string) string {
	t.Helper()
	got, err := e.Text(strings.NewReader(page))
	require.NoError(t, err)
	return got
}

func TestText_Article(t *testing.T) {
	got := text(t, NewExtractor(nil), articlePage)
	assert.Equal(t, strings.Join([]string{
		"Acme Labs raises $10M",
		"Acme Labs, a fintech startup, raised $10 million.",
		"The round was led by Foo Ventures.",
		"More soon.",
	}, "\n"), got)
}

func TestText_SelectorCascade(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"main", `<body><div>chrome</div><main><p>Main text</p></main></body>`, "Main text"},
		{"class", `<body><div class="sidebar">x</div><div class="post"><p>Post text</p></div></body>`, "Post text"},
		{"role", `<body><div role="main">Role text</div><div>other</div></body>`, "Role text"},
		{"body fallback", `<body><div>One</div><div>Two</div></body>`, "One\nTwo"},
		{"first match only", `<body><article>First</article><article>Second</article></body>`, "First"},
		{"empty", `<body><nav>only nav</nav></body>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, text(t, NewExtractor(nil), tt.page))
		})
	}
}

func TestText_CustomSelectors(t *testing.T) {
	e := NewExtractor(nil, WithSelectors("#story"))
	got := text(t, e, `<body><article>Ignored</article><div id="story">Story</div></body>`)
	assert.Equal(t, "Story", got)
}

func TestExtractMainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			_, _ = w.Write([]byte("<html><body><article>Caf\xe9 raised $2M</article></body></html>"))
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articlePage))
		}
	}))
	defer srv.Close()

	e := NewExtractor(fetcher.NewHTTPFetcher(fetcher.Options{RatePerHost: 1000, RetryDelay: time.Millisecond}))

	got, err := e.ExtractMainText(context.Background(), srv.URL+"/story")
	require.NoError(t, err)
	assert.Contains(t, got, "led by Foo Ventures")
	assert.NotContains(t, got, "Copyright")

	got, err = e.ExtractMainText(context.Background(), srv.URL+"/latin1")
	require.NoError(t, err)
	assert.Equal(t, "Café raised $2M", got)

	_, err = e.ExtractMainText(context.Background(), srv.URL+"/gone")
	assert.Error(t, err)
}

type stubGetter struct{ err error }

func (s stubGetter) Get(context.Context, string) (*fetcher.Response, error) { return nil, s.err }

func TestExtractMainText_FetchError(t *testing.T) {
	e := NewExtractor(stubGetter{err: errors.New("boom")})
	_, err := e.ExtractMainText(context.Background(), "https://example.com/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Acme raised $10M. ", "Acme raised $10M."},
		{"<p>Beta raised &amp; grew</p>", "Beta raised & grew"},
		{"<p>One</p><p>Two <b>bold</b></p><script>x()</script>", "One\nTwo bold"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlainText(tt.in), tt.in)
	}
}
