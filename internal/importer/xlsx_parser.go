package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads the first sheet of a workbook with a header row.
type XLSXParser struct {
	attributes AttributeMap
}

// NewXLSXParser builds a parser that maps headers through attributes.
func NewXLSXParser(attributes AttributeMap) *XLSXParser {
	return &XLSXParser{attributes: attributes}
}

func (p *XLSXParser) Parse(ctx context.Context, source io.Reader) (*Records, error) {
	f, err := excelize.OpenReader(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	sheetRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	if len(sheetRows) == 0 {
		return nil, errors.New("no header row found in xlsx")
	}

	rows := make([]row, 0, len(sheetRows)-1)
	for i, values := range sheetRows[1:] {
		rows = append(rows, row{line: i + 2, values: values})
	}

	return buildRecords(ctx, p.attributes, sheetRows[0], rows)
}
