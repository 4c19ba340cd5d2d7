package chunk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

func sensorTable(cols []string, times ...string) Table {
	t := Table{Schema: Schema{TimeColumn: ColHeaderTimestamp, ValueColumns: cols}}
	for i, s := range times {
		ms, err := mhtime.Parse(s)
		if err != nil {
			panic(err)
		}
		vals := make([]float64, len(cols))
		for j := range vals {
			vals[j] = float64(i*10 + j)
		}
		t.Rows = append(t.Rows, Row{Time: ms, Stop: ms, Values: vals})
	}
	return t
}

func TestMergeOrderAndExtent(t *testing.T) {
	prev := sensorTable([]string{"Z", "X"}, "2020-01-01 09:59:59.000")
	own := sensorTable([]string{"X", "Y", "Z"}, "2020-01-01 10:00:00.500", "2020-01-01 10:59:59.900")
	next := sensorTable([]string{"X", "Y", "Z"}, "2020-01-01 11:00:00.000", "2020-01-01 11:00:01.000")

	m := Merge(own, &prev, &next)
	require.Equal(t, 5, m.Table.Len())
	assert.Equal(t, own.Schema, m.Table.Schema)

	for i := 1; i < m.Table.Len(); i++ {
		assert.Less(t, m.Table.Rows[i-1].Time, m.Table.Rows[i].Time)
	}
	// prev had columns Z, X: projected to X, Y, Z with Y missing.
	first := m.Table.Rows[0].Values
	assert.Equal(t, 1.0, first[0])
	assert.True(t, math.IsNaN(first[1]))
	assert.Equal(t, 0.0, first[2])

	require.NotNil(t, m.OwnStart)
	require.NotNil(t, m.OwnStop)
	assert.Equal(t, mustParse(t, "2020-01-01 10:00:00.000"), *m.OwnStart)
	assert.Equal(t, mustParse(t, "2020-01-01 11:00:00.000"), *m.OwnStop)
	assert.LessOrEqual(t, *m.OwnStart, *m.OwnStop)

	p, n := m.Context()
	assert.Equal(t, 1, p)
	assert.Equal(t, 2, n)
	assert.Equal(t, own.Rows, m.Own().Rows)
}

func TestMergeWithoutNeighbors(t *testing.T) {
	own := sensorTable([]string{"X"}, "2020-01-01 10:30:00.000")
	m := Merge(own, nil, nil)
	assert.Equal(t, own.Rows, m.Table.Rows)
	p, n := m.Context()
	assert.Zero(t, p)
	assert.Zero(t, n)
}

func TestMergeEmptyChunk(t *testing.T) {
	own := Table{Schema: Schema{TimeColumn: ColHeaderTimestamp, ValueColumns: []string{"X"}}}
	next := sensorTable([]string{"X"}, "2020-01-01 11:00:00.000")

	m := Merge(own, nil, &next)
	assert.True(t, m.Empty())
	assert.Nil(t, m.OwnStart)
	assert.Nil(t, m.OwnStop)
	assert.True(t, m.Table.Empty())
	assert.True(t, m.Own().Empty())
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	prev := sensorTable([]string{"X"}, "2020-01-01 09:59:00.000")
	own := sensorTable([]string{"X"}, "2020-01-01 10:00:00.000")
	before := prev.Rows[0].Values[0]

	m := Merge(own, &prev, nil)
	m.Table.Rows[0].Values[0] = 99
	assert.Equal(t, before, prev.Rows[0].Values[0])
}

func TestMergeOwnExtentFromUnsortedRows(t *testing.T) {
	own := sensorTable([]string{"X"}, "2020-01-01 11:30:00.000", "2020-01-01 10:15:00.000", "2020-01-01 11:59:59.999")
	m := Merge(own, nil, nil)
	require.False(t, m.Empty())
	assert.Equal(t, mustParse(t, "2020-01-01 10:00:00.000"), *m.OwnStart)
	assert.Equal(t, mustParse(t, "2020-01-01 12:00:00.000"), *m.OwnStop)
	assert.Len(t, m.Own().Rows, 3)
}
