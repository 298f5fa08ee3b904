package connector

import (
	"html"
	"regexp"
	"strings"
)

// StripHTML renders best-effort plain text from provider HTML through an
// ordered pipeline: decode entities, delete script/style blocks, turn
// block-level closing tags into newlines, strip remaining tags, collapse
// whitespace. The order is a contract: entities decode before tag stripping,
// so an entity-encoded tag is decoded and then stripped.
var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)
	blockBreakRe  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr)\s*>|<br\s*/?>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe    = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLineRe   = regexp.MustCompile(`\n{3,}`)
	lineEdgeRe    = regexp.MustCompile(` *\n *`)
)

func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	s = scriptStyleRe.ReplaceAllString(s, "")
	s = blockBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = lineEdgeRe.ReplaceAllString(s, "\n")
	s = blankLineRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
