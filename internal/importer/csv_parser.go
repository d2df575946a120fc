package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// CSVParser reads comma separated sources with a header row.
type CSVParser struct {
	attributes AttributeMap
}

// NewCSVParser builds a parser that maps headers through attributes.
func NewCSVParser(attributes AttributeMap) *CSVParser {
	return &CSVParser{attributes: attributes}
}

func (p *CSVParser) Parse(ctx context.Context, source io.Reader) (*Records, error) {
	reader := bufio.NewReader(source)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	header, err := csvReader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("no header row found in csv")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var rows []row
	for {
		values, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		rows = append(rows, row{line: line, values: values})
	}

	return buildRecords(ctx, p.attributes, header, rows)
}
