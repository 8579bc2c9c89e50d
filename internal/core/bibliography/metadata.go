package bibliography

import (
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

var authorSeparator = regexp.MustCompile(`\s*(?:,|;|\band\b)\s*`)

// ExtractMetadata normalizes parser-reported properties. Missing values fall
// back to defaults, never to an error.
func ExtractMetadata(props domain.DocumentProperties) domain.Metadata {
	title := strings.TrimSpace(props.Title)
	if title == "" {
		title = domain.UnknownTitle
	}
	return domain.Metadata{
		Title:            title,
		Authors:          SplitAuthors(props.Author),
		CreationDate:     ParseDate(props.CreationDate),
		ModificationDate: ParseDate(props.ModificationDate),
		PageCount:        props.PageCount,
	}
}

// SplitAuthors splits an author string on commas, semicolons and the word
// "and".
func SplitAuthors(raw string) []string {
	var authors []string
	for _, part := range authorSeparator.Split(raw, -1) {
		if name := strings.TrimSpace(part); name != "" {
			authors = append(authors, name)
		}
	}
	if len(authors) == 0 {
		return []string{domain.UnknownAuthor}
	}
	return authors
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts PDF date strings (D:YYYYMMDDHHmmSS...) and common ISO
// layouts. Unparseable input yields nil.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if t, ok := parsePDFDate(raw); ok {
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parsePDFDate(raw string) (time.Time, bool) {
	s := strings.TrimPrefix(raw, "D:")
	digits := 0
	for digits < len(s) && digits < 14 && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits < 4 || (s == raw && digits != len(s)) {
		return time.Time{}, false
	}
	// Pad missing month/day/time fields with their minimum values.
	stamp := s[:digits] + "0101000000"[max(0, digits-4):]
	if len(stamp) > 14 {
		stamp = stamp[:14]
	}
	t, err := time.Parse("20060102150405", stamp)
	if err != nil {
		return time.Time{}, false
	}
	if off, ok := pdfOffset(s[digits:]); ok {
		t = t.Add(-off)
	}
	return t.UTC(), true
}

// pdfOffset parses the trailing zone of a PDF date, e.g. +01'00' or Z.
func pdfOffset(zone string) (time.Duration, bool) {
	if len(zone) < 3 || (zone[0] != '+' && zone[0] != '-') {
		return 0, false
	}
	clean := strings.ReplaceAll(zone[1:], "'", "")
	if len(clean) < 2 {
		return 0, false
	}
	hours, err := time.ParseDuration(clean[:2] + "h")
	if err != nil {
		return 0, false
	}
	var minutes time.Duration
	if len(clean) >= 4 {
		if m, err := time.ParseDuration(clean[2:4] + "m"); err == nil {
			minutes = m
		}
	}
	off := hours + minutes
	if zone[0] == '-' {
		off = -off
	}
	return off, true
}
