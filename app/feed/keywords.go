package feed

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

const (
	groupSeparator = ","
	termSeparator  = "+"
)

// KeywordRule is an OR of groups, each group an AND of lowercase terms.
//
//	"出,促销+低价" => [["出"], ["促销", "低价"]]
type KeywordRule struct {
	groups [][]string
}

// CompileKeywords parses a rule string. Full-width separators (，＋) are
// accepted. Blank input compiles to a rule with no groups, which never matches.
func CompileKeywords(rule string) KeywordRule {
	var groups [][]string

	for _, rawGroup := range strings.Split(normalize(rule), groupSeparator) {
		rawGroup = strings.TrimSpace(rawGroup)
		if rawGroup == "" {
			continue
		}

		var terms []string
		for _, term := range strings.Split(rawGroup, termSeparator) {
			term = strings.TrimSpace(term)
			if term != "" {
				terms = append(terms, term)
			}
		}

		if len(terms) > 0 {
			groups = append(groups, terms)
		}
	}

	return KeywordRule{groups: groups}
}

// Groups returns a copy of the compiled groups.
func (r KeywordRule) Groups() [][]string {
	groups := make([][]string, len(r.groups))
	for i, group := range r.groups {
		groups[i] = append([]string(nil), group...)
	}
	return groups
}

func (r KeywordRule) Empty() bool {
	return len(r.groups) == 0
}

// String renders the rule in canonical form; CompileKeywords(r.String())
// yields the same groups.
func (r KeywordRule) String() string {
	parts := make([]string, len(r.groups))
	for i, group := range r.groups {
		parts[i] = strings.Join(group, termSeparator)
	}
	return strings.Join(parts, groupSeparator)
}

// Matches reports whether any group has all of its terms in text.
func (r KeywordRule) Matches(text string) bool {
	haystack := normalize(text)

	for _, group := range r.groups {
		if r.matchesGroup(haystack, group) {
			return true
		}
	}
	return false
}

// Allows applies the rule to an item's title and description. A disabled
// or empty rule lets everything through.
func (r KeywordRule) Allows(enabled bool, item Item) bool {
	if !enabled || r.Empty() {
		return true
	}
	return r.Matches(item.Text())
}

func (r KeywordRule) matchesGroup(haystack string, group []string) bool {
	for _, term := range group {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// normalize folds full-width forms to their canonical width and lowercases.
// cases.Caser is stateful, so a fresh one is built per call.
func normalize(s string) string {
	return cases.Lower(language.Und).String(width.Fold.String(s))
}
