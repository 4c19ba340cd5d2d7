package resample

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasjlepore/mhealth-windows/chunk"
)

var schema = chunk.Schema{TimeColumn: chunk.ColHeaderTimestamp, ValueColumns: []string{"X", "Y"}}

func table(times []int64, f func(ts int64) []float64) chunk.Table {
	t := chunk.Table{Schema: schema}
	for _, ts := range times {
		t.Rows = append(t.Rows, chunk.Row{Time: ts, Stop: ts, Values: f(ts)})
	}
	return t
}

func uniform(start, step int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)*step
	}
	return out
}

func wave(ts int64) []float64 {
	s := float64(ts) / 1000
	return []float64{math.Sin(2 * math.Pi * s), 0.5*s + 1}
}

func TestResampleRoundTrip(t *testing.T) {
	for _, method := range []Method{MethodSpline, MethodLinear} {
		t.Run(string(method), func(t *testing.T) {
			in := table(uniform(1_000_000, 20, 250), wave)
			out, err := Resample(in, Options{Rate: 50, Method: method})
			require.NoError(t, err)
			require.Equal(t, in.Len(), out.Len())
			for i, r := range out.Rows {
				assert.Equal(t, in.Rows[i].Time, r.Time)
				assert.InDelta(t, in.Rows[i].Values[0], r.Values[0], 1e-9)
				assert.InDelta(t, in.Rows[i].Values[1], r.Values[1], 1e-9)
			}
		})
	}
}

func TestResampleSplineReproducesCubic(t *testing.T) {
	cubic := func(ts int64) []float64 {
		s := float64(ts) / 1000
		return []float64{s * s * s, 2*s*s - s + 3}
	}
	in := table(uniform(0, 1000, 6), cubic)
	out, err := Resample(in, Options{Rate: 2, Method: MethodSpline})
	require.NoError(t, err)
	require.Equal(t, 11, out.Len())
	for _, r := range out.Rows {
		want := cubic(r.Time)
		assert.InDelta(t, want[0], r.Values[0], 1e-9, "t=%dms", r.Time)
		assert.InDelta(t, want[1], r.Values[1], 1e-9, "t=%dms", r.Time)
	}
	assert.InDelta(t, 0.125, out.Rows[1].Values[0], 1e-9)
	assert.InDelta(t, 91.125, out.Rows[9].Values[0], 1e-9)
}

func TestResampleSplineFallsBackToLinearBelowFourPoints(t *testing.T) {
	in := table([]int64{0, 1000, 2000}, func(ts int64) []float64 {
		s := float64(ts) / 1000
		return []float64{s * s, 1}
	})
	out, err := Resample(in, Options{Rate: 2, Method: MethodSpline})
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())
	assert.InDelta(t, 0.5, out.Rows[1].Values[0], 1e-9)
	assert.InDelta(t, 2.5, out.Rows[3].Values[0], 1e-9)
}

func TestResampleUpsampleLinear(t *testing.T) {
	in := table([]int64{0, 100, 200}, func(ts int64) []float64 { return []float64{float64(ts), 1} })
	out, err := Resample(in, Options{Rate: 20, Method: MethodLinear})
	require.NoError(t, err)
	require.Equal(t, 5, out.Len())
	assert.Equal(t, int64(50), out.Rows[1].Time)
	assert.InDelta(t, 50, out.Rows[1].Values[0], 1e-9)
	assert.InDelta(t, 150, out.Rows[3].Values[0], 1e-9)
}

func TestResampleGapSegments(t *testing.T) {
	in := table([]int64{0, 1000, 2000, 10_000}, func(ts int64) []float64 { return []float64{1, 2} })

	_, err := Resample(in, Options{Rate: 1, GapThreshold: time.Second})
	require.ErrorIs(t, err, ErrInsufficientSamples)

	got := segments(in.Rows, 1000)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[1], 1)
}

func TestResampleSkipsSegmentWithoutReferenceSamples(t *testing.T) {
	in := table([]int64{0, 1000, 2000, 5500}, func(ts int64) []float64 { return []float64{1, 2} })

	out, err := Resample(in, Options{Rate: 1, GapThreshold: time.Second, Method: MethodLinear})
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, int64(2000), out.Rows[2].Time)
}

func TestResampleFillGaps(t *testing.T) {
	times := append(uniform(0, 100, 11), uniform(3000, 100, 11)...)
	in := table(times, func(ts int64) []float64 { return []float64{float64(ts), 0} })

	out, err := Resample(in, Options{Rate: 10, Method: MethodLinear})
	require.NoError(t, err)
	assert.Equal(t, 22, out.Len())

	filled, err := Resample(in, Options{Rate: 10, Method: MethodLinear, FillGaps: true})
	require.NoError(t, err)
	require.Equal(t, 41, filled.Len())
	for _, r := range filled.Rows {
		inGap := r.Time > 1000 && r.Time < 3000
		assert.Equal(t, inGap, math.IsNaN(r.Values[0]), "ts %d", r.Time)
	}
}

func TestResampleDedupesAndClips(t *testing.T) {
	in := table(uniform(0, 100, 30), func(ts int64) []float64 { return []float64{float64(ts), 0} })
	dup := in.Rows[5]
	dup.Values = []float64{-1, -1}
	in.Rows = append(in.Rows, dup)

	out, err := Resample(in, Options{Rate: 10, Method: MethodLinear, Clip: &Range{Start: 1000, Stop: 2000}})
	require.NoError(t, err)
	require.Equal(t, 10, out.Len())
	assert.Equal(t, int64(1000), out.Rows[0].Time)
	assert.Equal(t, int64(1900), out.Rows[9].Time)

	full, err := Resample(in, Options{Rate: 10, Method: MethodLinear})
	require.NoError(t, err)
	require.Equal(t, 30, full.Len())
	assert.InDelta(t, 500, full.Rows[5].Values[0], 1e-9)
	assert.Len(t, in.Rows, 31)
}

func TestResampleCallerClock(t *testing.T) {
	in := table(uniform(0, 100, 21), func(ts int64) []float64 { return []float64{float64(ts), 0} })
	start := int64(-950)
	out, err := Resample(in, Options{Rate: 10, Method: MethodLinear, Start: &start})
	require.NoError(t, err)
	require.NotEmpty(t, out.Rows)
	assert.Equal(t, int64(50), out.Rows[0].Time)
	assert.InDelta(t, 50, out.Rows[0].Values[0], 1e-9)
}

func TestResampleDropsLabelsAndKeepsNaNColumns(t *testing.T) {
	in := table(uniform(0, 100, 5), func(ts int64) []float64 { return []float64{float64(ts), math.NaN()} })
	in.Schema.LabelColumns = []string{"L"}
	for i := range in.Rows {
		in.Rows[i].Labels = []string{"x"}
	}
	out, err := Resample(in, Options{Rate: 10})
	require.NoError(t, err)
	assert.Empty(t, out.Schema.LabelColumns)
	for _, r := range out.Rows {
		assert.Nil(t, r.Labels)
		assert.True(t, math.IsNaN(r.Values[1]))
	}
}

func TestResampleEmptyAndBadMethod(t *testing.T) {
	out, err := Resample(chunk.Table{Schema: schema}, Options{Rate: 10})
	require.NoError(t, err)
	assert.True(t, out.Empty())

	_, err = Resample(table([]int64{0, 100}, wave), Options{Rate: 10, Method: "cubic"})
	require.Error(t, err)
}

func TestEstimateRate(t *testing.T) {
	// 50 Hz with a partial first and last second
	times := uniform(700, 20, 50*5)
	rate, err := EstimateRate(table(times, wave))
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)

	_, err = EstimateRate(table([]int64{1}, wave))
	require.ErrorIs(t, err, ErrInsufficientSamples)

	out, err := Resample(table(times, wave), Options{Method: MethodLinear})
	require.NoError(t, err)
	assert.Equal(t, len(times), out.Len())
}
