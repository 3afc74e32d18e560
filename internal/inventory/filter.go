package inventory

import (
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortKey selects the ordering applied by Filter.
type SortKey string

const (
	SortByName              SortKey = "name"
	SortByDescriptionLength SortKey = "description-length"
)

const (
	titlePrefix = "title:"
	descPrefix  = "desc:"
)

// Query is a parsed search expression.
type Query struct {
	// Text is the lower-cased needle; empty matches everything.
	Text string
	// Description is true when the needle targets descriptions instead of names.
	Description bool
}

// ParseQuery parses "title:foo", "desc:foo" or a bare "foo" (name match).
func ParseQuery(raw string) Query {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(lower, titlePrefix):
		return Query{Text: strings.TrimSpace(lower[len(titlePrefix):])}
	case strings.HasPrefix(lower, descPrefix):
		return Query{Text: strings.TrimSpace(lower[len(descPrefix):]), Description: true}
	default:
		return Query{Text: lower}
	}
}

// Active reports whether the query narrows the tool list.
func (q Query) Active() bool {
	return q.Text != ""
}

// Match reports whether tool satisfies the query.
func (q Query) Match(tool Tool) bool {
	if q.Text == "" {
		return true
	}
	target := tool.Name
	if q.Description {
		target = tool.Description
	}
	return strings.Contains(strings.ToLower(target), q.Text)
}

// ParseSortKey maps unknown keys to SortByName.
func ParseSortKey(raw string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(raw))) {
	case SortByDescriptionLength:
		return SortByDescriptionLength
	default:
		return SortByName
	}
}

// Filter returns a new slice holding the tools matching query, ordered by key.
// The input slice is never modified and ties keep their input order.
func Filter(tools []Tool, query string, key SortKey) []Tool {
	q := ParseQuery(query)

	out := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if q.Match(tool) {
			out = append(out, tool)
		}
	}

	switch ParseSortKey(string(key)) {
	case SortByDescriptionLength:
		slices.SortStableFunc(out, func(a, b Tool) int {
			return utf8.RuneCountInString(b.Description) - utf8.RuneCountInString(a.Description)
		})
	default:
		// Collators keep internal buffers, so each call gets its own.
		col := collate.New(language.Und)
		slices.SortStableFunc(out, func(a, b Tool) int {
			return col.CompareString(a.Name, b.Name)
		})
	}
	return out
}
