package transcript

import (
	"html"
	"regexp"
	"strings"

	"github.com/zhouzirui/smartguard/internal/model/chat"
)

// urlPattern matches bare http(s) URLs in already-escaped text. '<' cannot
// occur in escaped text, so the match stops at whitespace.
var urlPattern = regexp.MustCompile(`https?://[^\s<]+`)

// Linkify wraps every bare URL in escaped into an anchor that opens in a new
// browsing context without referrer or opener. escaped must already be
// HTML-escaped.
func Linkify(escaped string) string {
	return urlPattern.ReplaceAllStringFunc(escaped, func(url string) string {
		return `<a href="` + url + `" target="_blank" rel="noopener noreferrer">` + url + `</a>`
	})
}

// RenderHTML renders one transcript entry: the sender label in bold followed
// by the escaped, linkified text.
func RenderHTML(sender chat.Sender, text string) string {
	var b strings.Builder
	b.WriteString("<strong>")
	b.WriteString(html.EscapeString(sender.Label()))
	b.WriteString(":</strong> ")
	b.WriteString(Linkify(html.EscapeString(text)))
	return b.String()
}

// renderPlaceholder renders the typing indicator without a sender prefix.
func renderPlaceholder() string {
	return `<em>` + html.EscapeString(chat.PlaceholderText) + `</em>`
}
