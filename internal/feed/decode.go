// Package feed reads RSS 2.0, RSS 1.0 and Atom feeds into entries.
package feed

import (
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/dealflow/internal/model"
)

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	DCDate      string `xml:"http://purl.org/dc/elements/1.1/ date"`
	Encoded     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	About       string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# about,attr"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// Feed is a decoded feed document.
type Feed struct {
	Title   string
	Entries []model.Entry
}

// Decode parses an RSS or Atom document. Entries without a link or id are
// dropped, as are repeats of an earlier link (or id when there is no link).
func Decode(r io.Reader) (*Feed, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "feed: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	out := &Feed{}
	seen := make(map[string]struct{})
	var root string
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "feed: read token")
		}

		switch t := tok.(type) {
		case xml.EndElement:
			depth--
		case xml.StartElement:
			depth++
			if root == "" {
				root = strings.ToLower(t.Name.Local)
				if root != "rss" && root != "rdf" && root != "feed" {
					return nil, eris.Errorf("feed: unrecognized root element <%s>", t.Name.Local)
				}
				continue
			}

			var entry model.Entry
			switch {
			case t.Name.Local == "item":
				var it rssItem
				if err := dec.DecodeElement(&it, &t); err != nil {
					return nil, eris.Wrap(err, "feed: decode item")
				}
				depth--
				entry = it.entry()
			case t.Name.Local == "entry" && root == "feed":
				var e atomEntry
				if err := dec.DecodeElement(&e, &t); err != nil {
					return nil, eris.Wrap(err, "feed: decode entry")
				}
				depth--
				entry = e.entry()
			case t.Name.Local == "title" && out.Title == "" && depth <= 3:
				var title string
				if err := dec.DecodeElement(&title, &t); err != nil {
					return nil, eris.Wrap(err, "feed: decode title")
				}
				depth--
				out.Title = strings.TrimSpace(title)
				continue
			default:
				continue
			}

			key := entry.Link
			if key == "" {
				key = entry.ID
			}
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.Entries = append(out.Entries, entry)
		}
	}
	if root == "" {
		return nil, eris.New("feed: empty document")
	}
	return out, nil
}

func (it rssItem) entry() model.Entry {
	id := firstNonEmpty(it.GUID, it.About)
	return model.Entry{
		ID:            strings.TrimSpace(id),
		Link:          strings.TrimSpace(it.Link),
		Title:         strings.TrimSpace(it.Title),
		Description:   strings.TrimSpace(firstNonEmpty(it.Description, it.Encoded)),
		PublishedDate: parseDate(firstNonEmpty(it.PubDate, it.DCDate)),
	}
}

func (e atomEntry) entry() model.Entry {
	var link string
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			link = l.Href
			break
		}
	}
	if link == "" && len(e.Links) > 0 {
		link = e.Links[0].Href
	}
	return model.Entry{
		ID:            strings.TrimSpace(e.ID),
		Link:          strings.TrimSpace(link),
		Title:         strings.TrimSpace(e.Title),
		Description:   strings.TrimSpace(firstNonEmpty(e.Summary, e.Content)),
		PublishedDate: parseDate(firstNonEmpty(e.Published, e.Updated)),
	}
}

// parseDate accepts RFC 822, RFC 3339 and the other shapes dateparse knows.
// The result is in UTC; unparseable dates yield nil.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
