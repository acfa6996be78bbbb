package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CSVSource reads curated frames from <Dir>/<SYMBOL>.csv
//
// Each file has a header row with a "date" column (YYYY-MM-DD) followed by
// numeric columns. Empty cells and "nan" are read as NaN.
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a CSVSource rooted at dir
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

// Path returns the file path of a symbol's dataset
func (s *CSVSource) Path(symbol string) string {
	return filepath.Join(s.Dir, strings.ToUpper(symbol)+".csv")
}

// Load implements Source
func (s *CSVSource) Load(_ context.Context, symbol string, asOf time.Time) (Frame, error) {
	symbol = strings.ToUpper(symbol)
	f, err := os.Open(s.Path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return Frame{}, fmt.Errorf("%w: %s in %s", ErrNotFound, symbol, s.Dir)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("open curated dataset %s: %w", symbol, err)
	}
	defer f.Close()

	frame, err := ReadCSV(symbol, f)
	if err != nil {
		return Frame{}, err
	}
	if frame.Empty() {
		return Frame{}, fmt.Errorf("%w: %s", ErrEmptyDataset, symbol)
	}
	return truncate(frame, asOf)
}

// Save writes a frame to <Dir>/<SYMBOL>.csv, creating Dir when needed
func (s *CSVSource) Save(frame Frame) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create curated dir: %w", err)
	}
	f, err := os.Create(s.Path(frame.Symbol))
	if err != nil {
		return fmt.Errorf("create curated dataset %s: %w", frame.Symbol, err)
	}
	if err := WriteCSV(f, frame); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadCSV parses a curated frame; rows may appear in any date order
func ReadCSV(symbol string, r io.Reader) (Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Frame{Symbol: strings.ToUpper(symbol), Columns: map[string][]float64{}}, nil
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read header of %s: %w", symbol, err)
	}

	dateIdx := -1
	for i, name := range header {
		header[i] = strings.ToLower(strings.TrimSpace(name))
		if header[i] == "date" {
			dateIdx = i
		}
	}
	if dateIdx < 0 {
		return Frame{}, fmt.Errorf("%w: %s has no date column", ErrInvalidFrame, symbol)
	}

	type row struct {
		date   time.Time
		values []float64
	}
	var rows []row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("read %s line %d: %w", symbol, line, err)
		}
		d, err := ParseDate(record[dateIdx])
		if err != nil {
			return Frame{}, fmt.Errorf("%s line %d: %w", symbol, line, err)
		}
		values := make([]float64, len(header))
		for i, cell := range record {
			if i == dateIdx {
				continue
			}
			values[i] = parseCell(cell)
		}
		rows = append(rows, row{date: d, values: values})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	dates := make([]time.Time, len(rows))
	columns := make(map[string][]float64, len(header)-1)
	for i, name := range header {
		if i == dateIdx {
			continue
		}
		columns[name] = make([]float64, len(rows))
	}
	for r, rw := range rows {
		dates[r] = rw.date
		for i, name := range header {
			if i == dateIdx {
				continue
			}
			columns[name][r] = rw.values[i]
		}
	}
	return NewFrame(symbol, dates, columns)
}

// WriteCSV writes a frame with a date column followed by the sorted columns
func WriteCSV(w io.Writer, frame Frame) error {
	writer := csv.NewWriter(w)
	names := frame.Names()
	if err := writer.Write(append([]string{"date"}, names...)); err != nil {
		return err
	}
	for i, d := range frame.Dates {
		record := make([]string, 0, len(names)+1)
		record = append(record, d.Format(DateLayout))
		for _, name := range names {
			v := frame.Columns[name][i]
			if math.IsNaN(v) {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseCell(cell string) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") || strings.EqualFold(cell, "null") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
