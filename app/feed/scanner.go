package feed

import (
	"html"
	"regexp"
	"strings"
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

var (
	itemBlockRe  = regexp.MustCompile(`(?is)<item\b[^>]*>(.*?)</item>`)
	entryBlockRe = regexp.MustCompile(`(?is)<entry\b[^>]*>(.*?)</entry>`)
	atomLinkRe   = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*["']([^"']*)["']`)

	tagPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{"title", "link", "description", "pubDate", "guid", "summary", "content", "published", "updated", "id"} {
		tagPatterns[tag] = regexp.MustCompile(`(?is)<` + tag + `\b[^>]*>(.*?)</` + tag + `>`)
	}
}

// scanItems is the lenient fallback used when a document is not well-formed
// XML. Each field is looked up by tag name inside its item block; a missing
// or broken tag leaves the field empty instead of failing the block.
func scanItems(doc string) []Item {
	var items []Item

	for _, match := range itemBlockRe.FindAllStringSubmatch(doc, -1) {
		block := match[1]
		items = append(items, Item{
			Title:       extractTag(block, "title"),
			Link:        extractTag(block, "link"),
			Description: extractTag(block, "description"),
			PubDate:     extractTag(block, "pubDate"),
			GUID:        extractTag(block, "guid"),
		})
	}

	for _, match := range entryBlockRe.FindAllStringSubmatch(doc, -1) {
		block := match[1]

		link := extractTag(block, "link")
		if href := atomLinkRe.FindStringSubmatch(block); href != nil {
			link = strings.TrimSpace(html.UnescapeString(href[1]))
		}

		description := extractTag(block, "summary")
		if description == "" {
			description = extractTag(block, "content")
		}

		pubDate := extractTag(block, "published")
		if pubDate == "" {
			pubDate = extractTag(block, "updated")
		}

		items = append(items, Item{
			Title:       extractTag(block, "title"),
			Link:        link,
			Description: description,
			PubDate:     pubDate,
			GUID:        extractTag(block, "id"),
		})
	}

	return items
}

func extractTag(block, tag string) string {
	re, ok := tagPatterns[tag]
	if !ok {
		return ""
	}

	match := re.FindStringSubmatch(block)
	if match == nil {
		return ""
	}

	value := match[1]
	if strings.Contains(value, cdataOpen) {
		value = strings.ReplaceAll(value, cdataOpen, "")
		value = strings.ReplaceAll(value, cdataClose, "")
	} else {
		value = html.UnescapeString(value)
	}

	return strings.TrimSpace(value)
}
