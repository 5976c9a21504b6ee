package feed

import (
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/fetcher"
	"github.com/sells-group/dealflow/internal/model"
)

// Parser fetches and decodes feeds.
type Parser struct {
	get fetcher.Getter
}

// NewParser returns a Parser that downloads through get.
func NewParser(get fetcher.Getter) *Parser {
	return &Parser{get: get}
}

// ParseFeed downloads url and returns its entries.
func (p *Parser) ParseFeed(ctx context.Context, url string) ([]model.Entry, error) {
	resp, err := p.get.Get(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: fetch %s", url)
	}
	f, err := Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "feed: parse %s", url)
	}
	zap.L().Debug("feed: parsed",
		zap.String("url", url),
		zap.String("title", f.Title),
		zap.Int("entries", len(f.Entries)),
	)
	return f.Entries, nil
}
