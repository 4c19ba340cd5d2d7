package chunk

import (
	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

// MergedStream is a chunk stitched to its neighbors. OwnStart and OwnStop bound the
// hours that belong to the chunk itself; both are nil when the chunk has no rows.
type MergedStream struct {
	Table    Table
	OwnStart *int64
	OwnStop  *int64

	prevRows int
	nextRows int
}

// Empty reports whether the chunk contributed no rows.
func (m *MergedStream) Empty() bool {
	return m.OwnStart == nil
}

// Context returns how many rows were borrowed from the previous and next chunk.
func (m *MergedStream) Context() (prev, next int) {
	return m.prevRows, m.nextRows
}

// Own returns the rows whose start lies in [OwnStart, OwnStop).
func (m *MergedStream) Own() Table {
	out := Table{Schema: m.Table.Schema}
	if m.Empty() {
		return out
	}
	start, stop := *m.OwnStart, *m.OwnStop
	for _, r := range m.Table.Rows {
		if r.Time >= start && r.Time < stop {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Merge concatenates prev, own and next rows in that order. Neighbor columns are
// selected and reordered to match own's schema. A nil neighbor contributes nothing.
func Merge(own Table, prev, next *Table) *MergedStream {
	m := &MergedStream{Table: Table{Schema: own.Schema}}
	if own.Empty() {
		return m
	}

	var rows []Row
	if prev != nil {
		p := prev.Project(own.Schema)
		m.prevRows = len(p.Rows)
		rows = append(rows, p.Rows...)
	}
	rows = append(rows, own.Rows...)
	if next != nil {
		n := next.Project(own.Schema)
		m.nextRows = len(n.Rows)
		rows = append(rows, n.Rows...)
	}
	m.Table.Rows = rows

	first, last := own.Rows[0].Time, own.Rows[0].Time
	for _, r := range own.Rows[1:] {
		if r.Time < first {
			first = r.Time
		}
		if r.Time > last {
			last = r.Time
		}
	}
	start := mhtime.FloorHour(first)
	stop := mhtime.CeilHour(last)
	m.OwnStart, m.OwnStop = &start, &stop
	return m
}
