// Package chunk splits document text into overlapping, sentence-aligned
// windows sized in approximate tokens.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// CharsPerToken is the approximation used for every token count.
const CharsPerToken = 4

// Tokens estimates the token count of s.
func Tokens(s string) int {
	return utf8.RuneCountInString(s) / CharsPerToken
}

// metadata keys never copied onto chunks.
var droppedKeys = map[string]bool{"raw_content": true, "raw_text": true}

var sentenceRe = regexp.MustCompile(`(?s).+?(?:[.!?]+["')\]]*(?:\s+|$)|$)`)

// Chunker splits text into windows of at most Size tokens, repeating up to
// Overlap tokens of trailing sentences at the start of the next window.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window configuration.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, eris.Errorf("chunk: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, eris.Errorf("chunk: overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text and attaches a copy of metadata to every chunk. Blank
// text yields no chunks.
func (c *Chunker) Chunk(text string, metadata map[string]any) []model.Chunk {
	parts := c.Split(text)
	out := make([]model.Chunk, 0, len(parts))
	for i, p := range parts {
		md := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			if !droppedKeys[k] {
				md[k] = v
			}
		}
		md["chunk_index"] = i
		out = append(out, model.Chunk{
			Index:      i,
			Content:    p,
			TokenCount: Tokens(p),
			Metadata:   md,
		})
	}
	return out
}

type unit struct {
	text   string
	sep    string // separator placed before text when it follows another unit
	tokens int
}

// Split returns the chunk texts.
func (c *Chunker) Split(text string) []string {
	units := c.units(text)

	var chunks []string
	var cur []unit
	curTokens := 0
	for _, u := range units {
		if len(cur) > 0 && curTokens+u.tokens > c.size {
			chunks = append(chunks, join(cur))
			cur = c.tail(cur)
			curTokens = sumTokens(cur)
			if curTokens+u.tokens > c.size {
				cur, curTokens = nil, 0
			}
		}
		cur = append(cur, u)
		curTokens += u.tokens
	}
	if len(cur) > 0 {
		chunks = append(chunks, join(cur))
	}
	return chunks
}

// tail returns the trailing units that fit in the overlap, never the whole
// window.
func (c *Chunker) tail(cur []unit) []unit {
	n, total := 0, 0
	for i := len(cur) - 1; i > 0; i-- {
		if total+cur[i].tokens > c.overlap {
			break
		}
		total += cur[i].tokens
		n++
	}
	return append([]unit(nil), cur[len(cur)-n:]...)
}

// units breaks text into paragraphs ("\n\n"), lines and sentences, and
// splits anything longer than a window on word and then rune boundaries.
func (c *Chunker) units(text string) []unit {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []unit
	for _, para := range strings.Split(text, "\n\n") {
		sep := "\n\n"
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if sep != "\n\n" {
				sep = "\n"
			}
			for _, s := range sentenceRe.FindAllString(line, -1) {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				for _, piece := range c.fit(s) {
					out = append(out, unit{text: piece, sep: sep, tokens: Tokens(piece)})
					sep = " "
				}
			}
		}
	}
	return out
}

// fit splits s into pieces of at most size tokens.
func (c *Chunker) fit(s string) []string {
	if Tokens(s) <= c.size {
		return []string{s}
	}
	limit := c.size * CharsPerToken
	var out []string
	var b strings.Builder
	for _, w := range strings.Fields(s) {
		for utf8.RuneCountInString(w) > limit {
			if b.Len() > 0 {
				out = append(out, b.String())
				b.Reset()
			}
			r := []rune(w)
			out = append(out, string(r[:limit]))
			w = string(r[limit:])
		}
		if b.Len() > 0 && utf8.RuneCountInString(b.String())+1+utf8.RuneCountInString(w) > limit {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func join(units []unit) string {
	var b strings.Builder
	for i, u := range units {
		if i > 0 {
			b.WriteString(u.sep)
		}
		b.WriteString(u.text)
	}
	return b.String()
}

func sumTokens(units []unit) int {
	total := 0
	for _, u := range units {
		total += u.tokens
	}
	return total
}
