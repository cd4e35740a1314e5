package tgui

import "strings"

// MaxMessageLength is Telegram's per-message text limit, in characters.
const MaxMessageLength = 4096

// SplitMessage breaks s into chunks of at most limit runes. It cuts at the
// last blank line inside the window, then the last newline, then the last
// space, and never inside an HTML tag. Chunks are trimmed.
func SplitMessage(s string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, len(rs)/limit+1)
	for len(rs) > 0 {
		if len(rs) <= limit {
			out = append(out, string(rs))
			break
		}
		cut := splitPoint(rs, limit)
		if chunk := strings.TrimSpace(string(rs[:cut])); chunk != "" {
			out = append(out, chunk)
		}
		rs = []rune(strings.TrimSpace(string(rs[cut:])))
	}
	return out
}

func splitPoint(rs []rune, limit int) int {
	window := rs[:limit]
	cut := -1
	for i := len(window) - 2; i > 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			cut = i
			break
		}
	}
	if cut == -1 {
		cut = lastIndex(window, '\n')
	}
	if cut == -1 {
		cut = lastIndex(window, ' ')
	}
	if cut == -1 {
		cut = limit
	}

	lastOpen, lastClose := -1, -1
	for i := 0; i < cut; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > 0 {
		cut = lastOpen
	}
	return cut
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i > 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
