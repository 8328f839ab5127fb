package feed

import (
	"bytes"
	"cmp"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run extracts items from a raw feed document. It never fails: documents
// gofeed rejects go through the tolerant tag scanner, and input neither can
// read yields no items.
func (p *Parser) Run(data []byte) []Item {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		items := scanItems(string(data))
		slog.Debug("Feed rejected by strict parser, using tag scanner", "error", err, "items", len(items))
		return items
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		items = append(items, p.normalizeItem(item))
	}

	return items
}

func (p *Parser) normalizeItem(item *gofeed.Item) Item {
	return Item{
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Description: strings.TrimSpace(cmp.Or(item.Description, item.Content)),
		PubDate:     strings.TrimSpace(cmp.Or(item.Published, item.Updated)),
		GUID:        strings.TrimSpace(item.GUID),
	}
}
