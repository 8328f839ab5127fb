package feed

import (
	"cmp"
	"strings"
)

// Item is a single post extracted from a feed document. All fields are
// plain text with CDATA markers already removed.
type Item struct {
	Title       string
	Link        string
	Description string
	PubDate     string
	GUID        string
}

// Identity returns the dedup key of the item: link, then guid, then title.
// An empty result means the item cannot be deduplicated and must be skipped.
func (i Item) Identity() string {
	return cmp.Or(
		strings.TrimSpace(i.Link),
		strings.TrimSpace(i.GUID),
		strings.TrimSpace(i.Title),
	)
}

// Text is the haystack used for keyword matching.
func (i Item) Text() string {
	return i.Title + " " + i.Description
}
