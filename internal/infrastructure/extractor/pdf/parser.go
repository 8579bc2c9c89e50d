// Package pdf extracts text and Info dictionary properties from PDF files.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type Parser struct {
	// MaxBytes bounds the extracted text; zero means unlimited.
	MaxBytes int64
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, sourceName string, data []byte) (out domain.ParsedDocument, err error) {
	if err := ctx.Err(); err != nil {
		return domain.ParsedDocument{}, err
	}
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			out = domain.ParsedDocument{}
			err = domain.WrapError(domain.ErrParseFailure, "parse pdf", fmt.Errorf("%s: %v", sourceName, r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "parse pdf", fmt.Errorf("%s: %w", sourceName, err))
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "extract pdf text", err)
	}
	if p.MaxBytes > 0 {
		textReader = io.LimitReader(textReader, p.MaxBytes)
	}
	raw, err := io.ReadAll(textReader)
	if err != nil {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "read pdf text", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "extract pdf text", errors.New("no extractable text"))
	}

	info := reader.Trailer().Key("Info")
	return domain.ParsedDocument{
		Text: text,
		Properties: domain.DocumentProperties{
			Title:            info.Key("Title").Text(),
			Author:           info.Key("Author").Text(),
			CreationDate:     info.Key("CreationDate").Text(),
			ModificationDate: info.Key("ModDate").Text(),
			PageCount:        reader.NumPage(),
		},
	}, nil
}
