package ingest

import "unicode/utf8"

// SoftLimit is the rune count above which a unit is summarized before
// embedding.
const SoftLimit = 20000

// NeedsSummarization reports whether any unit exceeds SoftLimit. The
// decision covers the whole batch.
func NeedsSummarization(units []string) bool {
	return AnyExceeds(units, SoftLimit)
}

// AnyExceeds reports whether any unit is longer than limit runes.
func AnyExceeds(units []string, limit int) bool {
	for _, u := range units {
		// Byte length bounds rune count from above.
		if len(u) > limit && utf8.RuneCountInString(u) > limit {
			return true
		}
	}
	return false
}
