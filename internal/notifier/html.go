package notifier

import (
	"html"
	"unicode/utf8"
)

// Alerts go out with Telegram's HTML parse mode; every dynamic value is
// escaped through these helpers.

func esc(s string) string  { return html.EscapeString(s) }
func bold(s string) string { return "<b>" + esc(s) + "</b>" }
func code(s string) string { return "<code>" + esc(s) + "</code>" }

// pre renders a preformatted block. Keep content short: a message split
// inside the block would leave unbalanced tags.
func pre(s string) string { return "<pre><code>" + esc(s) + "</code></pre>" }

// truncRunes cuts s to at most n runes, appending "…" when it cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
