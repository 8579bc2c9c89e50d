package plaintext

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Parser reads UTF-8 text and markdown. A leading "# " heading becomes the
// title.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, sourceName string, data []byte) (domain.ParsedDocument, error) {
	if !utf8.Valid(data) {
		return domain.ParsedDocument{}, domain.WrapError(
			domain.ErrParseFailure, "parse text",
			errors.New("content is not valid UTF-8: "+filepath.Base(sourceName)),
		)
	}

	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "parse text", errors.New("no extractable text"))
	}

	return domain.ParsedDocument{
		Text:       text,
		Properties: domain.DocumentProperties{Title: headingTitle(text), PageCount: 1},
	}, nil
}

func headingTitle(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if strings.HasPrefix(first, "# ") {
		return strings.TrimSpace(strings.TrimPrefix(first, "# "))
	}
	return ""
}
