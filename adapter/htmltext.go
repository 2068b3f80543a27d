package adapter

import (
	"regexp"
	"strings"
)

var (
	brTag  = regexp.MustCompile(`(?i)<br\s*/?>`)
	pClose = regexp.MustCompile(`(?i)</p\s*>`)
	anyTag = regexp.MustCompile(`(?s)<[^>]*>`)
)

// StripHTML converts an HTML-only body (no accompanying markdown/plain
// source) to plain text: <br> and </p> become line feeds, every remaining
// tag is dropped, and &nbsp; becomes a literal space. It is intentionally
// not a full HTML parser; adapters call it only when the platform gives no
// other representation of the body.
func StripHTML(html string) string {
	s := brTag.ReplaceAllString(html, "\n")
	s = pClose.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return s
}
