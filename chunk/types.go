// Package chunk models hourly mhealth files: their identities, payloads, continuity
// links and the merged streams built from a chunk and its neighbors.
package chunk

import (
	"errors"
	"math"
)

// Kind is the record family encoded in a file name.
type Kind string

const (
	KindSensor     Kind = "sensor"
	KindAnnotation Kind = "annotation"
	KindEvent      Kind = "event"
	KindFeature    Kind = "feature"
	KindClass      Kind = "class"
)

var (
	// ErrAmbiguousOrdering reports two chunks sharing participant, instrument, date and hour.
	ErrAmbiguousOrdering = errors.New("ambiguous chunk ordering")
	// ErrInvalidIdentity reports a path that does not follow the file-naming convention.
	ErrInvalidIdentity = errors.New("invalid chunk identity")
	// ErrRejectedRows reports rows rejected by a strict load.
	ErrRejectedRows = errors.New("rejected rows")
)

// Schema names the columns of a table explicitly.
type Schema struct {
	TimeColumn   string   `json:"time_column"`
	StopColumn   string   `json:"stop_column,omitempty"`
	ValueColumns []string `json:"value_columns,omitempty"`
	LabelColumns []string `json:"label_columns,omitempty"`
}

// Interval reports whether records carry a start and a stop timestamp.
func (s Schema) Interval() bool {
	return s.StopColumn != ""
}

// Header returns the column names in output order.
func (s Schema) Header() []string {
	out := []string{s.TimeColumn}
	if s.StopColumn != "" {
		out = append(out, s.StopColumn)
	}
	out = append(out, s.ValueColumns...)
	return append(out, s.LabelColumns...)
}

// Row is one record. Times are zone-less epoch milliseconds; point samples have Stop == Time.
type Row struct {
	Time   int64
	Stop   int64
	Values []float64
	Labels []string
}

// Table is an ordered sequence of rows sharing one schema.
type Table struct {
	Schema Schema
	Rows   []Row
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Bounds returns the smallest start and the largest stop of the table.
func (t Table) Bounds() (start, stop int64, ok bool) {
	if len(t.Rows) == 0 {
		return 0, 0, false
	}
	start, stop = t.Rows[0].Time, t.Rows[0].Stop
	for _, r := range t.Rows[1:] {
		if r.Time < start {
			start = r.Time
		}
		if r.Stop > stop {
			stop = r.Stop
		}
	}
	return start, stop, true
}

// Column returns the values of a numeric column, or nil if it is not in the schema.
func (t Table) Column(name string) []float64 {
	idx := indexOf(t.Schema.ValueColumns, name)
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[idx]
	}
	return out
}

// Project returns t with its columns selected and reordered to match schema.
// Columns missing from t become NaN values or empty labels.
func (t Table) Project(schema Schema) Table {
	valueIdx := make([]int, len(schema.ValueColumns))
	for i, name := range schema.ValueColumns {
		valueIdx[i] = indexOf(t.Schema.ValueColumns, name)
	}
	labelIdx := make([]int, len(schema.LabelColumns))
	for i, name := range schema.LabelColumns {
		labelIdx[i] = indexOf(t.Schema.LabelColumns, name)
	}

	out := Table{Schema: schema, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		row := Row{Time: r.Time, Stop: r.Stop}
		if !schema.Interval() {
			row.Stop = r.Time
		}
		if len(valueIdx) > 0 {
			row.Values = make([]float64, len(valueIdx))
			for j, k := range valueIdx {
				if k < 0 {
					row.Values[j] = math.NaN()
					continue
				}
				row.Values[j] = r.Values[k]
			}
		}
		if len(labelIdx) > 0 {
			row.Labels = make([]string, len(labelIdx))
			for j, k := range labelIdx {
				if k >= 0 {
					row.Labels[j] = r.Labels[k]
				}
			}
		}
		out.Rows[i] = row
	}
	return out
}

// Chunk is one file's identity and its loaded payload.
type Chunk struct {
	ID    Identity
	Table Table
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
