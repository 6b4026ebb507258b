package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/catalog"
	"github.com/xuri/excelize/v2"
)

var (
	ErrNoHeader   = errors.New("no header row found")
	ErrTooFewRows = errors.New("file has too few rows")
)

// ParseError reports a sheet that cannot be decoded at all.
type ParseError struct {
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return "invalid sheet: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid sheet: %s: %s", e.Err, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

type options struct {
	log catalog.Logger
}

type Option func(*options)

// WithLogger receives warnings about skipped or suspicious rows.
func WithLogger(l catalog.Logger) Option {
	return func(o *options) { o.log = l }
}

var zipMagic = []byte("PK\x03\x04")

// Decode parses a CSV or XLSX sheet into listings, in file order.
func Decode(data []byte, opts ...Option) ([]catalog.Listing, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	log := catalog.OrNop(o.log)

	raw, err := readRows(data)
	if err != nil {
		return nil, err
	}
	body, err := dataRows(raw)
	if err != nil {
		return nil, err
	}

	groups := groupRows(body)
	listings := make([]catalog.Listing, 0, len(groups))
	seen := make(map[int64]int)
	for _, g := range groups {
		if g.orphan() {
			log.Warnf("sheet: skipping %d row(s) starting at line %d: no listing id or title before them", len(g.rows), g.rows[0].line)
			continue
		}
		l := buildListing(g)
		if l.ID != 0 {
			if prev, ok := seen[l.ID]; ok {
				log.Warnf("sheet: listing %d appears again at line %d (first seen at line %d); rows should be contiguous", l.ID, l.Line, prev)
			} else {
				seen[l.ID] = l.Line
			}
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func readRows(data []byte) ([][]string, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return readXLSX(data)
	}
	return readCSV(data)
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: err, Detail: "not a readable xlsx workbook"}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Err: ErrTooFewRows, Detail: "workbook has no sheets"}
	}
	name := sheets[0]
	for _, s := range sheets {
		if s == SheetName {
			name = s
			break
		}
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, &ParseError{Err: err, Detail: "reading sheet " + name}
	}
	return rows, nil
}

type row struct {
	cells []string
	// line is the 1-based record number in the file.
	line int
}

func (r row) get(col int) string { return strings.TrimSpace(r.cells[col]) }

// text returns a free-text cell as written. Whitespace-only cells are blank.
func (r row) text(col int) string {
	if strings.TrimSpace(r.cells[col]) == "" {
		return ""
	}
	return r.cells[col]
}

// dataRows locates the header and returns the padded rows after it.
func dataRows(raw [][]string) ([]row, error) {
	if len(raw) < minRows {
		return nil, &ParseError{Err: ErrTooFewRows, Detail: fmt.Sprintf("got %d, need at least %d", len(raw), minRows)}
	}

	header := -1
	for i := 0; i < len(raw) && i < headerSearchRows; i++ {
		if isHeader(raw[i]) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, &ParseError{Err: ErrNoHeader, Detail: fmt.Sprintf("expected %q in the first column within the first %d rows", Header[ColListingID], headerSearchRows)}
	}

	var out []row
	for i := header + 1; i < len(raw); i++ {
		cells := raw[i]
		if len(cells) < minRowCells || blank(cells) {
			continue
		}
		if len(cells) < NumColumns {
			padded := make([]string, NumColumns)
			copy(padded, cells)
			cells = padded
		}
		out = append(out, row{cells: cells, line: i + 1})
	}
	return out, nil
}

func isHeader(cells []string) bool {
	if len(cells) > 0 && strings.EqualFold(strings.TrimSpace(cells[0]), Header[ColListingID]) {
		return true
	}
	return len(cells) > 1 && strings.EqualFold(strings.TrimSpace(cells[1]), Header[ColTitle])
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
