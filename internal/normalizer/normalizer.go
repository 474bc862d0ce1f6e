// Package normalizer turns raw item markup into plain text.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// templatePattern matches innermost brace-delimited template tokens such as
// {name} or {{ value }} left behind by the source CMS.
var templatePattern = regexp.MustCompile(`\{[^{}]*\}`)

// Normalizer converts markup to clean text.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer { return &Normalizer{} }

// Normalize extracts the visible text of raw and strips template tokens. It
// never fails; unparsable input degrades to the raw string minus tokens.
func (n *Normalizer) Normalize(raw string) string {
	return Normalize(raw)
}

// Normalize is the package-level form of (*Normalizer).Normalize.
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := raw
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err == nil {
		doc.Find("script, style, noscript, template").Remove()
		text = doc.Text()
	}

	return stripTemplates(text)
}

// stripTemplates removes nested tokens from the inside out.
func stripTemplates(text string) string {
	for {
		next := templatePattern.ReplaceAllString(text, "")
		if next == text {
			return next
		}
		text = next
	}
}
