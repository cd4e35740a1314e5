package tgui

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeader     = regexp.MustCompile(`(?m)^#{1,3}\s*(.+)$`)
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*([^*]+)\*`)
	mdCodeBlock  = regexp.MustCompile("(?s)```\\w*\\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// MarkdownToHTML converts the markdown subset chat models usually emit into
// Telegram HTML. Links are lifted out before escaping so their URLs survive.
func MarkdownToHTML(text string) string {
	type link struct{ text, url string }
	var links []link
	text = mdLink.ReplaceAllStringFunc(text, func(m string) string {
		sub := mdLink.FindStringSubmatch(m)
		links = append(links, link{text: sub[1], url: sub[2]})
		return linkPlaceholder(len(links) - 1)
	})

	text = escapeText(text)
	for i, l := range links {
		text = strings.Replace(text, linkPlaceholder(i), `<a href="`+l.url+`">`+escapeText(l.text)+`</a>`, 1)
	}

	text = mdHeader.ReplaceAllString(text, "<b>$1</b>")
	text = mdBold.ReplaceAllString(text, "<b>$1</b>")
	text = mdItalic.ReplaceAllString(text, "<i>$1</i>")
	text = mdCodeBlock.ReplaceAllString(text, "<pre>$1</pre>")
	text = mdInlineCode.ReplaceAllString(text, "<code>$1</code>")
	return text
}

func linkPlaceholder(i int) string { return "\x00LINK" + strconv.Itoa(i) + "\x00" }
