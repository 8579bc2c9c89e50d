// Package xlsx extracts supplementary data sheets as tab-separated text.
package xlsx

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, _ string, data []byte) (domain.ParsedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "open workbook", err)
	}
	defer f.Close()

	var b strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return domain.ParsedDocument{}, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "read sheet "+sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return domain.ParsedDocument{}, domain.WrapError(domain.ErrParseFailure, "parse workbook", errors.New("workbook has no cell data"))
	}

	props := domain.DocumentProperties{PageCount: len(sheets)}
	if dp, err := f.GetDocProps(); err == nil && dp != nil {
		props.Title = dp.Title
		props.Author = dp.Creator
		props.CreationDate = dp.Created
		props.ModificationDate = dp.Modified
	}
	return domain.ParsedDocument{Text: text, Properties: props}, nil
}
