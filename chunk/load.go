package chunk

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

// Well-known mhealth column names.
const (
	ColHeaderTimestamp = "HEADER_TIME_STAMP"
	ColStartTime       = "START_TIME"
	ColStopTime        = "STOP_TIME"
	ColLabelName       = "LABEL_NAME"
)

// LoadOptions controls how payloads are read.
type LoadOptions struct {
	// Strict turns any rejected row into a load error.
	Strict bool
}

// RejectedRow describes one input row the loader refused.
type RejectedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// LoadResult carries the clean rows of a file and every row that was rejected.
type LoadResult struct {
	Chunk    Chunk
	Rejected []RejectedRow
}

// Load reads the payload of id, choosing the codec from the file extension.
func Load(id Identity, opts LoadOptions) (*LoadResult, error) {
	var (
		table    Table
		rejected []RejectedRow
		err      error
	)
	switch {
	case strings.HasSuffix(id.Path, ".fit"):
		table, rejected, err = loadFIT(id.Path)
	default:
		table, rejected, err = loadCSVFile(id.Path, id.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id.Path, err)
	}
	if opts.Strict && len(rejected) > 0 {
		first := rejected[0]
		return nil, fmt.Errorf("load %s: %w: %d rows, first at line %d: %s", id.Path, ErrRejectedRows, len(rejected), first.Line, first.Reason)
	}
	return &LoadResult{Chunk: Chunk{ID: id, Table: table}, Rejected: rejected}, nil
}

func loadCSVFile(path string, kind Kind) (Table, []RejectedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Table{}, nil, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return ReadCSV(r, kind)
}

// ReadCSV parses an mhealth csv payload. Sensor and feature files use their first
// column as the timestamp and every other column as a numeric value; annotation, event
// and class files are interval records keyed by START_TIME and STOP_TIME.
func ReadCSV(r io.Reader, kind Kind) (Table, []RejectedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, nil, fmt.Errorf("empty csv: missing header")
		}
		return Table{}, nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	layout, err := newCSVLayout(header, kind)
	if err != nil {
		return Table{}, nil, err
	}

	table := Table{Schema: layout.schema, Rows: make([]Row, 0, 4096)}
	var rejected []RejectedRow
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
				rejected = append(rejected, RejectedRow{Line: line, Reason: perr.Err.Error()})
				continue
			}
			return Table{}, nil, fmt.Errorf("read after line %d: %w", line, err)
		}
		// quoted fields may span lines, so take the record's first line from the reader
		line, _ = cr.FieldPos(0)
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row, reason := layout.parse(rec)
		if reason != "" {
			rejected = append(rejected, RejectedRow{Line: line, Reason: reason})
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rejected, nil
}

type csvLayout struct {
	schema   Schema
	width    int
	timeIdx  int
	stopIdx  int
	valueIdx []int
	labelIdx []int
}

func newCSVLayout(header []string, kind Kind) (*csvLayout, error) {
	if len(header) < 2 {
		return nil, fmt.Errorf("header has less than 2 columns")
	}
	l := &csvLayout{width: len(header), stopIdx: -1}
	switch kind {
	case KindAnnotation, KindEvent, KindClass:
		start, stop := indexOf(header, ColStartTime), indexOf(header, ColStopTime)
		if start < 0 || stop < 0 {
			return nil, fmt.Errorf("%s file needs %s and %s columns", kind, ColStartTime, ColStopTime)
		}
		l.timeIdx, l.stopIdx = start, stop
		l.schema = Schema{TimeColumn: ColStartTime, StopColumn: ColStopTime}
		for i, name := range header {
			if i == start || i == stop || name == ColHeaderTimestamp {
				continue
			}
			l.labelIdx = append(l.labelIdx, i)
			l.schema.LabelColumns = append(l.schema.LabelColumns, name)
		}
	case KindFeature:
		start, stop := indexOf(header, ColStartTime), indexOf(header, ColStopTime)
		if start < 0 || stop < 0 {
			return nil, fmt.Errorf("feature file needs %s and %s columns", ColStartTime, ColStopTime)
		}
		l.timeIdx, l.stopIdx = start, stop
		l.schema = Schema{TimeColumn: ColStartTime, StopColumn: ColStopTime}
		for i, name := range header {
			if i == start || i == stop {
				continue
			}
			l.valueIdx = append(l.valueIdx, i)
			l.schema.ValueColumns = append(l.schema.ValueColumns, name)
		}
	default:
		l.timeIdx = 0
		l.schema = Schema{TimeColumn: header[0], ValueColumns: append([]string(nil), header[1:]...)}
		for i := 1; i < len(header); i++ {
			l.valueIdx = append(l.valueIdx, i)
		}
	}
	return l, nil
}

// parse converts one record, returning a non-empty reason when the row is rejected.
func (l *csvLayout) parse(rec []string) (Row, string) {
	if len(rec) != l.width {
		return Row{}, fmt.Sprintf("expected %d fields, got %d", l.width, len(rec))
	}
	ts, err := mhtime.Parse(rec[l.timeIdx])
	if err != nil {
		return Row{}, err.Error()
	}
	row := Row{Time: ts, Stop: ts}
	if l.stopIdx >= 0 {
		stop, err := mhtime.Parse(rec[l.stopIdx])
		if err != nil {
			return Row{}, err.Error()
		}
		if stop < ts {
			return Row{}, fmt.Sprintf("stop %s before start %s", rec[l.stopIdx], rec[l.timeIdx])
		}
		row.Stop = stop
	}
	if len(l.valueIdx) > 0 {
		row.Values = make([]float64, len(l.valueIdx))
		for j, i := range l.valueIdx {
			field := strings.TrimSpace(rec[i])
			if field == "" {
				row.Values[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Row{}, fmt.Sprintf("column %s: invalid number %q", l.schema.ValueColumns[j], field)
			}
			row.Values[j] = v
		}
	}
	if len(l.labelIdx) > 0 {
		row.Labels = make([]string, len(l.labelIdx))
		for j, i := range l.labelIdx {
			row.Labels[j] = strings.TrimSpace(rec[i])
		}
	}
	return row, ""
}
