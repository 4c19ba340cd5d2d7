// Package resample interpolates irregular sensor streams onto a uniform clock without
// bridging large gaps.
package resample

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

// ErrInsufficientSamples reports a segment with too few samples to interpolate.
var ErrInsufficientSamples = errors.New("insufficient samples")

// Method selects the interpolation used inside a segment.
type Method string

const (
	MethodSpline Method = "spline"
	MethodLinear Method = "linear"
)

// DefaultGapThreshold separates segments when GapThreshold is unset.
const DefaultGapThreshold = time.Second

// Range is a half open [Start, Stop) interval in epoch milliseconds.
type Range struct {
	Start int64
	Stop  int64
}

// Options configures Resample.
type Options struct {
	// Rate is the target rate in Hz; zero estimates it from the stream.
	Rate float64
	// GapThreshold is the largest sample spacing interpolated across.
	GapThreshold time.Duration
	// FillGaps inserts NaN rows for skipped reference samples.
	FillGaps bool
	Method   Method
	// Start and Stop override the first and last reference timestamp.
	Start *int64
	Stop  *int64
	// Clip keeps only output rows in the range.
	Clip *Range
}

// Resample dedupes t by timestamp, splits it at gaps and interpolates every value
// column of each segment onto the reference clock. Label columns are dropped.
func Resample(t chunk.Table, opts Options) (chunk.Table, error) {
	schema := chunk.Schema{TimeColumn: t.Schema.TimeColumn, ValueColumns: append([]string(nil), t.Schema.ValueColumns...)}
	out := chunk.Table{Schema: schema}
	rows := dedupe(t.Rows)
	if len(rows) == 0 {
		return out, nil
	}

	method := opts.Method
	if method == "" {
		method = MethodSpline
	}
	if method != MethodSpline && method != MethodLinear {
		return out, fmt.Errorf("unknown interpolation method %q", method)
	}
	gap := opts.GapThreshold
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	rate := opts.Rate
	if rate <= 0 {
		est, err := EstimateRate(t)
		if err != nil {
			return out, err
		}
		rate = est
	}

	first, last := rows[0].Time, rows[len(rows)-1].Time
	start, stop := first, last
	if opts.Start != nil {
		start = *opts.Start
	}
	if opts.Stop != nil {
		stop = *opts.Stop
	}
	clock := referenceClock(start, stop, rate)
	lo := sort.Search(len(clock), func(i int) bool { return clock[i] >= first })
	hi := sort.Search(len(clock), func(i int) bool { return clock[i] > last })
	clock = clock[lo:hi]

	var result []chunk.Row
	for _, seg := range segments(rows, gap.Milliseconds()) {
		segFirst, segLast := seg[0].Time, seg[len(seg)-1].Time
		a := sort.Search(len(clock), func(i int) bool { return clock[i] >= segFirst })
		b := sort.Search(len(clock), func(i int) bool { return clock[i] > segLast })
		ref := clock[a:b]
		if len(ref) == 0 {
			continue
		}
		if len(seg) < 2 {
			return chunk.Table{Schema: schema}, fmt.Errorf("%w: segment at %s has %d sample for %d reference timestamps",
				ErrInsufficientSamples, mhtime.Format(segFirst), len(seg), len(ref))
		}
		interpolated, err := interpolateSegment(seg, ref, len(schema.ValueColumns), method)
		if err != nil {
			return chunk.Table{Schema: schema}, fmt.Errorf("segment at %s: %w", mhtime.Format(segFirst), err)
		}
		result = append(result, interpolated...)
	}

	if opts.FillGaps {
		result = fillGaps(result, clock, len(schema.ValueColumns))
	}
	if opts.Clip != nil {
		kept := result[:0]
		for _, r := range result {
			if r.Time >= opts.Clip.Start && r.Time < opts.Clip.Stop {
				kept = append(kept, r)
			}
		}
		result = kept
	}
	out.Rows = result
	return out, nil
}

// dedupe returns rows ordered by time with the first occurrence of each timestamp.
func dedupe(rows []chunk.Row) []chunk.Row {
	sorted := append([]chunk.Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	out := sorted[:0]
	for i, r := range sorted {
		if i > 0 && r.Time == out[len(out)-1].Time {
			continue
		}
		out = append(out, r)
	}
	return out
}

// referenceClock returns start + round(i*1000/rate) ms for every i up to stop inclusive.
func referenceClock(start, stop int64, rate float64) []int64 {
	if stop < start {
		return nil
	}
	n := int(math.Floor(float64(stop-start)*rate/1000.0)) + 1
	clock := make([]int64, 0, n)
	for i := 0; ; i++ {
		ts := start + int64(math.Round(float64(i)*1000.0/rate))
		if ts > stop {
			break
		}
		clock = append(clock, ts)
	}
	return clock
}

// segments splits rows wherever consecutive timestamps are more than gap apart.
func segments(rows []chunk.Row, gap int64) [][]chunk.Row {
	var out [][]chunk.Row
	begin := 0
	for i := 1; i < len(rows); i++ {
		if rows[i].Time-rows[i-1].Time > gap {
			out = append(out, rows[begin:i])
			begin = i
		}
	}
	return append(out, rows[begin:])
}

func interpolateSegment(seg []chunk.Row, ref []int64, cols int, method Method) ([]chunk.Row, error) {
	origin := seg[0].Time
	out := make([]chunk.Row, len(ref))
	for i, ts := range ref {
		out[i] = chunk.Row{Time: ts, Stop: ts, Values: make([]float64, cols)}
	}

	xs := make([]float64, 0, len(seg))
	ys := make([]float64, 0, len(seg))
	for j := 0; j < cols; j++ {
		xs, ys = xs[:0], ys[:0]
		for _, r := range seg {
			if v := r.Values[j]; !math.IsNaN(v) {
				xs = append(xs, mhtime.Seconds(r.Time-origin))
				ys = append(ys, v)
			}
		}
		if len(xs) < 2 {
			for i := range out {
				out[i].Values[j] = math.NaN()
			}
			continue
		}
		p, err := fit(xs, ys, method)
		if err != nil {
			return nil, err
		}
		for i, ts := range ref {
			out[i].Values[j] = p.Predict(mhtime.Seconds(ts - origin))
		}
	}
	return out, nil
}

// fit returns a not-a-knot cubic spline through xs and ys, or a linear interpolant
// when linear is requested or fewer than four points exist.
func fit(xs, ys []float64, method Method) (interp.Predictor, error) {
	if method == MethodSpline && len(xs) >= 4 {
		var nak interp.NotAKnotCubic
		if err := nak.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("fit spline: %w", err)
		}
		return &nak, nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit linear: %w", err)
	}
	return &pl, nil
}

// fillGaps reindexes rows onto clock, inserting NaN rows for missing timestamps.
func fillGaps(rows []chunk.Row, clock []int64, cols int) []chunk.Row {
	out := make([]chunk.Row, 0, len(clock))
	k := 0
	for _, ts := range clock {
		if k < len(rows) && rows[k].Time == ts {
			out = append(out, rows[k])
			k++
			continue
		}
		vals := make([]float64, cols)
		for j := range vals {
			vals[j] = math.NaN()
		}
		out = append(out, chunk.Row{Time: ts, Stop: ts, Values: vals})
	}
	return out
}

// EstimateRate returns the most common number of samples per second, ignoring the
// first and last second of the stream. Ties resolve to the lower rate.
func EstimateRate(t chunk.Table) (float64, error) {
	rows := dedupe(t.Rows)
	if len(rows) < 2 {
		return 0, fmt.Errorf("%w: %d rows to estimate a sampling rate", ErrInsufficientSamples, len(rows))
	}
	var counts []int
	bucket := floorSecond(rows[0].Time)
	n := 0
	for _, r := range rows {
		b := floorSecond(r.Time)
		if b != bucket {
			counts = append(counts, n)
			// empty seconds are not counted
			bucket, n = b, 0
		}
		n++
	}
	counts = append(counts, n)
	if len(counts) > 2 {
		counts = counts[1 : len(counts)-1]
	}

	freq := map[int]int{}
	for _, c := range counts {
		freq[c]++
	}
	best, bestN := 0, 0
	for c, k := range freq {
		if k > bestN || (k == bestN && c < best) {
			best, bestN = c, k
		}
	}
	return float64(best), nil
}

func floorSecond(ms int64) int64 {
	r := ms % 1000
	if r < 0 {
		r += 1000
	}
	return ms - r
}
