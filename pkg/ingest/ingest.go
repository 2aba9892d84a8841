// Package ingest parses uploaded CSV and XLSX content into headers and rows.
// Files are stored as raw bytes and re-parsed on demand, so all readers here
// operate on in-memory content rather than paths.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/tabularhq/merge-engine/pkg/models"
)

// ErrNoHeader indicates the file contained no header row at all.
var ErrNoHeader = errors.New("file has no header row")

// Detect maps a file name to its file type by extension.
func Detect(fileName string) (models.FileType, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return models.FileTypeCSV, nil
	case ".xlsx":
		return models.FileTypeXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file extension on %q (expected .csv or .xlsx)", fileName)
	}
}

// Rows is a forward-only reader over a parsed file. Next returns io.EOF
// after the last data row. Rows are normalized to the header width.
type Rows interface {
	Headers() []string
	Next() ([]string, error)
	Close() error
}

// Open parses content of the given type and positions the reader after the
// header row.
func Open(fileType models.FileType, content []byte) (Rows, error) {
	switch fileType {
	case models.FileTypeCSV:
		return openCSV(content)
	case models.FileTypeXLSX:
		return openXLSX(content)
	default:
		return nil, fmt.Errorf("unsupported file type %q", fileType)
	}
}

// ReadSample drains the reader, returning the first limit rows and the total
// data row count. The reader is closed before returning.
func ReadSample(rows Rows, limit int) ([][]string, int64, error) {
	defer rows.Close()

	sample := make([][]string, 0, limit)
	var total int64
	for {
		row, err := rows.Next()
		if err == io.EOF {
			return sample, total, nil
		}
		if err != nil {
			return nil, 0, err
		}
		total++
		if len(sample) < limit {
			sample = append(sample, row)
		}
	}
}

// normalizeHeaders trims whitespace and strips a UTF-8 BOM from the first cell.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		headers[i] = strings.TrimSpace(h)
	}
	return headers
}

// pad returns row extended or truncated to width cells.
func pad(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

// ============================================================================
// CSV
// ============================================================================

type csvRows struct {
	reader  *csv.Reader
	headers []string
}

func openCSV(content []byte) (*csvRows, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	return &csvRows{reader: r, headers: normalizeHeaders(header)}, nil
}

func (c *csvRows) Headers() []string { return c.headers }

func (c *csvRows) Next() ([]string, error) {
	rec, err := c.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read csv row: %w", err)
	}
	out := make([]string, len(rec))
	copy(out, rec)
	return pad(out, len(c.headers)), nil
}

func (c *csvRows) Close() error { return nil }

// ============================================================================
// XLSX
// ============================================================================

type xlsxRows struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
}

func openXLSX(content []byte) (*xlsxRows, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, ErrNoHeader
	}

	// Data is always read from the first sheet.
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read xlsx sheet %q: %w", sheets[0], err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		if err := rows.Error(); err != nil {
			return nil, fmt.Errorf("read xlsx header: %w", err)
		}
		return nil, ErrNoHeader
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("read xlsx header: %w", err)
	}
	if len(header) == 0 {
		rows.Close()
		f.Close()
		return nil, ErrNoHeader
	}

	return &xlsxRows{file: f, rows: rows, headers: normalizeHeaders(header)}, nil
}

func (x *xlsxRows) Headers() []string { return x.headers }

func (x *xlsxRows) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, fmt.Errorf("read xlsx row: %w", err)
		}
		return nil, io.EOF
	}
	row, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read xlsx row: %w", err)
	}
	return pad(row, len(x.headers)), nil
}

func (x *xlsxRows) Close() error {
	x.rows.Close()
	return x.file.Close()
}
