// Package datanorm turns a downloaded dashboard export into a table aligned
// with the destination schema.
package datanorm

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/ignite/report-etl/internal/report"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalizer parses raw report files and applies the static rename table.
type Normalizer struct {
	encoding   encoding.Encoding
	maxColumns int
	renames    *RenameTable
}

// NewNormalizer creates a Normalizer. An unknown encoding name is an error.
func NewNormalizer(cfg Config) (*Normalizer, error) {
	enc, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	maxCols := cfg.MaxColumns
	if maxCols <= 0 {
		maxCols = DefaultMaxColumns
	}
	return &Normalizer{
		encoding:   enc,
		maxColumns: maxCols,
		renames:    NewRenameTable(cfg.CommonRenames, cfg.CampaignRenames),
	}, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252, nil
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// Normalize reads the report at path and returns a table ready to append.
// It returns ErrNoData when the report has a header but no rows, and a
// *ParseError when the file cannot be read as a table.
func (n *Normalizer) Normalize(path string, campaign report.Campaign) (*report.CleanTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	records, err := n.readRecords(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(records) == 0 {
		log.Printf("[datanorm] %s is empty", path)
		return nil, ErrNoData
	}

	header := trimFields(records[0])
	rows := records[1:]

	// Some exports carry an extra line around the real header, which shows
	// up as a blank header or a blank first data row. The header is then the
	// next non-blank line.
	if isBlank(header) || (len(rows) > 0 && isBlank(rows[0])) {
		i := 1
		for i < len(records) && isBlank(records[i]) {
			i++
		}
		if i == len(records) {
			return nil, ErrNoData
		}
		header = trimFields(records[i])
		rows = records[i+1:]
		log.Printf("[datanorm] blank line before data in %s, using line %d as header", path, i+1)
	}

	if looksLikeMarkup(header) {
		return nil, &ParseError{Path: path, Err: errors.New("file is an HTML page, not a report export")}
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	if len(header) > n.maxColumns {
		log.Printf("[datanorm] %s has %d columns, keeping first %d", path, len(header), n.maxColumns)
		header = header[:n.maxColumns]
	}

	table := &report.CleanTable{
		Columns: header,
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, rec := range rows {
		table.Rows = append(table.Rows, fitWidth(rec, len(header)))
	}

	renamed := n.renames.Apply(table.Columns, campaign)
	log.Printf("[datanorm] %s: %d rows, %d columns, %d renamed for %s",
		path, table.Len(), len(table.Columns), renamed, campaign)
	return table, nil
}

// readRecords decodes r and parses every record. A UTF-8 BOM marks the file
// as UTF-8 regardless of the configured encoding.
func (n *Normalizer) readRecords(r io.Reader) ([][]string, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var src io.Reader = br
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	} else {
		src = n.encoding.NewDecoder().Reader(br)
	}

	cr := csv.NewReader(src)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func looksLikeMarkup(header []string) bool {
	if len(header) == 0 {
		return false
	}
	first := strings.ToLower(header[0])
	return strings.HasPrefix(first, "<!doctype") || strings.HasPrefix(first, "<html")
}

// fitWidth pads or truncates rec to width cells.
func fitWidth(rec []string, width int) []string {
	if len(rec) == width {
		return rec
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}
