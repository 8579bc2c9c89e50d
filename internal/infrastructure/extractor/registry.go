// Package extractor selects a format parser for an uploaded document.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type Format string

const (
	FormatPDF       Format = "pdf"
	FormatPlainText Format = "text"
	FormatXLSX      Format = "xlsx"
)

var extensions = map[string]Format{
	".pdf":      FormatPDF,
	".txt":      FormatPlainText,
	".text":     FormatPlainText,
	".md":       FormatPlainText,
	".markdown": FormatPlainText,
	".xlsx":     FormatXLSX,
}

// Registry dispatches to the parser registered for a document's format.
type Registry struct {
	parsers map[Format]ports.DocumentParser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[Format]ports.DocumentParser)}
}

func (r *Registry) Register(format Format, parser ports.DocumentParser) *Registry {
	r.parsers[format] = parser
	return r
}

func (r *Registry) Parse(ctx context.Context, sourceName string, data []byte) (domain.ParsedDocument, error) {
	format, ok := Detect(sourceName, data)
	if !ok {
		return domain.ParsedDocument{}, domain.WrapError(
			domain.ErrUnsupportedFormat, "parse document",
			fmt.Errorf("no parser for %q", filepath.Base(sourceName)),
		)
	}
	parser, ok := r.parsers[format]
	if !ok {
		return domain.ParsedDocument{}, domain.WrapError(
			domain.ErrUnsupportedFormat, "parse document",
			fmt.Errorf("%s parser is not enabled", format),
		)
	}
	return parser.Parse(ctx, sourceName, data)
}

// Detect picks a format from the file extension, falling back to content
// sniffing for names without a known extension.
func Detect(sourceName string, data []byte) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(sourceName))
	if f, ok := extensions[ext]; ok {
		return f, true
	}
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF, true
	case ext == "" && len(data) > 0 && utf8.Valid(data) && !bytes.ContainsRune(data, 0):
		return FormatPlainText, true
	default:
		return "", false
	}
}
