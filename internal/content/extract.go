// Package content pulls the readable article text out of an HTML page.
package content

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/dealflow/internal/fetcher"
)

// Boilerplate elements removed before text is collected.
var DefaultStrip = []string{"script", "style", "noscript", "template", "iframe", "nav", "footer", "header", "aside"}

// DefaultSelectors are tried in order; the first match wins and body is the
// last resort.
var DefaultSelectors = []string{"article", "main", ".content", ".post", ".entry", ".article-content", "[role='main']"}

// Extractor fetches pages and returns their main text.
type Extractor struct {
	get       fetcher.Getter
	selectors []string
	strip     string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSelectors replaces DefaultSelectors.
func WithSelectors(sel ...string) Option {
	return func(e *Extractor) { e.selectors = sel }
}

// NewExtractor returns an Extractor that downloads through get.
func NewExtractor(get fetcher.Getter, opts ...Option) *Extractor {
	e := &Extractor{
		get:       get,
		selectors: DefaultSelectors,
		strip:     strings.Join(DefaultStrip, ", "),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractMainText downloads url and returns its main text. An empty string
// with a nil error means the page had no readable content.
func (e *Extractor) ExtractMainText(ctx context.Context, url string) (string, error) {
	resp, err := e.get.Get(ctx, url)
	if err != nil {
		return "", eris.Wrapf(err, "content: fetch %s", url)
	}
	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return "", eris.Wrapf(err, "content: decode %s", url)
	}
	return e.Text(r)
}

// Text returns the main text of an HTML document, one block per line.
func (e *Extractor) Text(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", eris.Wrap(err, "content: parse html")
	}
	doc.Find(e.strip).Remove()

	sel := doc.Find("body").First()
	for _, s := range e.selectors {
		if found := doc.Find(s).First(); found.Length() > 0 {
			sel = found
			break
		}
	}
	if sel.Length() == 0 {
		return "", nil
	}

	w := &lineWriter{}
	for _, n := range sel.Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n"), nil
}

// PlainText flattens an HTML fragment, such as a feed description, to text.
// Input without markup is returned trimmed.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find(strings.Join(DefaultStrip, ", ")).Remove()

	w := &lineWriter{}
	for _, n := range doc.Find("body").Nodes {
		w.walk(n)
	}
	w.flush()
	return strings.Join(w.lines, "\n")
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "hr": true, "li": true, "main": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "td": true, "th": true,
	"tr": true, "ul": true,
}

// lineWriter collects text, starting a new line at every block boundary and
// collapsing whitespace inside a line.
type lineWriter struct {
	cur   strings.Builder
	lines []string
}

func (w *lineWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	}
	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.flush()
	}
}

func (w *lineWriter) flush() {
	if line := strings.Join(strings.Fields(w.cur.String()), " "); line != "" {
		w.lines = append(w.lines, line)
	}
	w.cur.Reset()
}
