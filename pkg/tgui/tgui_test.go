package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMarkdownToHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain escaped", "a < b & c", "a &lt; b &amp; c"},
		{"bold", "**Хогвартс** ждёт", "<b>Хогвартс</b> ждёт"},
		{"italic", "*тихо*", "<i>тихо</i>"},
		{"header", "## Заголовок\nтекст", "<b>Заголовок</b>\nтекст"},
		{"inline code", "use `go test`", "use <code>go test</code>"},
		{"code block", "```go\nx := 1\n```", "<pre>x := 1\n</pre>"},
		{"link keeps url", "[Docs & more](https://ex.com/a?b=1&c=2)", `<a href="https://ex.com/a?b=1&c=2">Docs &amp; more</a>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MarkdownToHTML(tc.in); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSplitMessageShortUntouched(t *testing.T) {
	got := SplitMessage("  hi  ", 10)
	if len(got) != 1 || got[0] != "  hi  " {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSplitMessagePrefersParagraphs(t *testing.T) {
	p1 := strings.Repeat("а", 30)
	p2 := strings.Repeat("б", 30)
	got := SplitMessage(p1+"\n\n"+p2, 40)
	if len(got) != 2 || got[0] != p1 || got[1] != p2 {
		t.Fatalf("unexpected chunks: %q", got)
	}
}

func TestSplitMessageLimits(t *testing.T) {
	words := strings.Repeat("слово ", 2000)
	chunks := SplitMessage(words, MaxMessageLength)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > MaxMessageLength {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Fatalf("chunk %d not trimmed", i)
		}
	}
}

func TestSplitMessageAvoidsTags(t *testing.T) {
	s := strings.Repeat("x", 15) + `<a href="https://e.com">y</a>`
	got := SplitMessage(s, 20)
	if len(got) < 2 || got[0] != strings.Repeat("x", 15) {
		t.Fatalf("split inside tag: %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("привет", 3); got != "при…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("ok", 5); got != "ok" {
		t.Fatalf("got %q", got)
	}
}
