// Package budget tracks how much extracted page text a run has consumed.
// Every ceiling and count is in runes.
package budget

import "unicode/utf8"

// truncationMarker is appended to text cut at a ceiling.
const truncationMarker = "\n[...truncated...]"

// Budget is a plain counter against a total ceiling and a per-page ceiling.
// It is owned by a single run and is not safe for concurrent use.
type Budget struct {
	total   int
	perPage int
	used    int
}

// New returns a Budget. Non-positive ceilings disable the respective limit.
func New(total, perPage int) *Budget {
	return &Budget{total: total, perPage: perPage}
}

// CanFetchMore reports whether the total ceiling still has room.
func (b *Budget) CanFetchMore() bool {
	return b.total <= 0 || b.used < b.total
}

// Add records n consumed runes.
func (b *Budget) Add(n int) {
	if n > 0 {
		b.used += n
	}
}

// Used returns the consumed character count.
func (b *Budget) Used() int { return b.used }

// Remaining returns the room left under the total ceiling (0 when
// exhausted, -1 when unlimited).
func (b *Budget) Remaining() int {
	if b.total <= 0 {
		return -1
	}
	return max(0, b.total-b.used)
}

// PerPage returns the per-page ceiling.
func (b *Budget) PerPage() int { return b.perPage }

// Total returns the total ceiling.
func (b *Budget) Total() int { return b.total }

// Consume cuts text to the per-page ceiling and records what is kept.
func (b *Budget) Consume(text string) string {
	text = b.TruncatePage(text)
	b.Add(utf8.RuneCountInString(text))
	return text
}

// TruncatePage cuts text to the per-page ceiling.
func (b *Budget) TruncatePage(text string) string {
	return Truncate(text, b.perPage)
}

// Truncate cuts text to at most limit runes, appending a marker when it
// had to cut. A non-positive limit returns text unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}
