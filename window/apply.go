package window

import (
	"fmt"
	"math"
	"sort"

	"github.com/lucasjlepore/mhealth-windows/chunk"
)

// ApplyOptions controls row selection and the shape of the feature table.
type ApplyOptions struct {
	// Placeholder fills the cells of empty windows. Nil means NaN.
	Placeholder *Cell
	// ColumnNames must match the feature width when set.
	ColumnNames []string
	// Interval selects rows overlapping the window using their start and stop.
	Interval bool
}

// FeatureRow is the feature vector of one window.
type FeatureRow struct {
	Start  int64
	Stop   int64
	Values []Cell
	Empty  bool
}

// FeatureTable is the ordered feature rows of one window set.
type FeatureTable struct {
	Columns []string
	Rows    []FeatureRow
}

// Width returns the number of feature cells per row.
func (t *FeatureTable) Width() int {
	if len(t.Rows) == 0 {
		return len(t.Columns)
	}
	return len(t.Rows[0].Values)
}

// Counts returns how many rows had data and how many were filled with placeholders.
func (t *FeatureTable) Counts() (full, empty int) {
	for _, r := range t.Rows {
		if r.Empty {
			empty++
		} else {
			full++
		}
	}
	return full, empty
}

// Apply evaluates ops on the rows of t selected by every window, in window order.
// Empty windows are filled with the placeholder once the widest vector is known.
func Apply(t chunk.Table, windows []Window, ops []Operation, opts ApplyOptions) (*FeatureTable, error) {
	if opts.Interval && !t.Schema.Interval() {
		return nil, fmt.Errorf("interval selection needs a stop column in the schema")
	}
	placeholder := Number(math.NaN())
	if opts.Placeholder != nil {
		placeholder = *opts.Placeholder
	}

	sorted := !opts.Interval && sort.SliceIsSorted(t.Rows, func(i, j int) bool {
		return t.Rows[i].Time < t.Rows[j].Time
	})

	widths := make([]int, len(ops))
	for i := range widths {
		widths[i] = -1
	}
	out := &FeatureTable{Columns: opts.ColumnNames, Rows: make([]FeatureRow, len(windows))}
	maxWidth := -1

	for wi, w := range windows {
		rows := selectRows(t.Rows, w, opts.Interval, sorted)
		out.Rows[wi] = FeatureRow{Start: w.Start, Stop: w.Stop}
		if len(rows) == 0 {
			out.Rows[wi].Empty = true
			continue
		}

		block := Block{Window: w, Schema: t.Schema, Rows: rows}
		var vec []Cell
		for oi, op := range ops {
			cells, err := op.Eval(block)
			if err != nil {
				return nil, fmt.Errorf("window %s: operation %s: %w", w, opName(op), err)
			}
			if widths[oi] < 0 {
				widths[oi] = len(cells)
			} else if len(cells) != widths[oi] {
				return nil, fmt.Errorf("%w: window %s: operation %s returned %d values, expected %d",
					ErrShapeMismatch, w, opName(op), len(cells), widths[oi])
			}
			vec = append(vec, cells...)
		}
		out.Rows[wi].Values = vec
		maxWidth = max(maxWidth, len(vec))
	}

	if maxWidth < 0 {
		maxWidth = len(opts.ColumnNames)
	} else if opts.ColumnNames != nil && len(opts.ColumnNames) != maxWidth {
		return nil, fmt.Errorf("%w: %d names for %d values", ErrInvalidColumns, len(opts.ColumnNames), maxWidth)
	}
	for i := range out.Rows {
		if !out.Rows[i].Empty {
			continue
		}
		vec := make([]Cell, maxWidth)
		for j := range vec {
			vec[j] = placeholder
		}
		out.Rows[i].Values = vec
	}
	return out, nil
}

// selectRows returns the rows of w. Sorted point rows are found by binary search.
func selectRows(rows []chunk.Row, w Window, interval, sorted bool) []chunk.Row {
	if interval {
		var out []chunk.Row
		for _, r := range rows {
			if r.Time < w.Stop && r.Stop > w.Start {
				out = append(out, r)
			}
		}
		return out
	}
	if sorted {
		lo := sort.Search(len(rows), func(i int) bool { return rows[i].Time >= w.Start })
		hi := sort.Search(len(rows), func(i int) bool { return rows[i].Time >= w.Stop })
		return rows[lo:hi:hi]
	}
	var out []chunk.Row
	for _, r := range rows {
		if r.Time >= w.Start && r.Time < w.Stop {
			out = append(out, r)
		}
	}
	return out
}

func opName(op Operation) string {
	if op.Kind == OpCustom && op.Name != "" {
		return op.Name
	}
	return string(op.Kind)
}
