package bibliography

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// citationPattern matches "(Author Words, 2020)". It is a heuristic: false
// positives and misses on unusual citation styles are expected.
var citationPattern = regexp.MustCompile(`\(([A-Za-z\s]+),\s*(\d{4})\)`)

// ExtractCitations returns non-overlapping matches left to right. Position
// is the character offset of the opening parenthesis.
func ExtractCitations(text string) []domain.Citation {
	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]domain.Citation, 0, len(matches))
	runePos, bytePos := 0, 0
	for _, m := range matches {
		runePos += utf8.RuneCountInString(text[bytePos:m[0]])
		bytePos = m[0]
		out = append(out, domain.Citation{
			Author:   strings.TrimSpace(text[m[2]:m[3]]),
			Year:     text[m[4]:m[5]],
			Text:     text[m[0]:m[1]],
			Position: runePos,
		})
	}
	return out
}
