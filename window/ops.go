package window

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lucasjlepore/mhealth-windows/chunk"
)

// ErrUnknownOperation reports an operation name that is not built in.
var ErrUnknownOperation = errors.New("unknown operation")

// OpKind tags an operation variant.
type OpKind string

const (
	OpMean            OpKind = "mean"
	OpStd             OpKind = "std"
	OpMax             OpKind = "max"
	OpMin             OpKind = "min"
	OpRange           OpKind = "range"
	OpAmplitude       OpKind = "amplitude"
	OpMeanDistance    OpKind = "mean_distance"
	OpActivePerc      OpKind = "active_perc"
	OpActivationCount OpKind = "activation_count"
	OpActivationStd   OpKind = "activation_std"
	OpENMO            OpKind = "enmo"
	OpVMMean          OpKind = "vm_mean"
	OpOrientation     OpKind = "orientation"
	OpFreq            OpKind = "freq"
	OpLabel           OpKind = "label"
	OpCount           OpKind = "count"
	OpCustom          OpKind = "custom"
)

// Labels used by the label operation.
const (
	LabelTransition = "transition"
	LabelUnknown    = "unknown"
)

const (
	defaultSubWindows = 4
	highEndHz         = 3.5
)

// Cell is one feature value, either numeric or categorical.
type Cell struct {
	Num    float64
	Text   string
	IsText bool
}

// Number returns a numeric cell.
func Number(v float64) Cell { return Cell{Num: v} }

// Text returns a categorical cell.
func Text(s string) Cell { return Cell{Text: s, IsText: true} }

// Block is the data one window hands to an operation. Interval rows are not clipped;
// operations that need the overlap use Window.
type Block struct {
	Window Window
	Schema chunk.Schema
	Rows   []chunk.Row
}

// finite returns value column j without NaN entries.
func (b Block) finite(j int) []float64 {
	out := make([]float64, 0, len(b.Rows))
	for _, r := range b.Rows {
		if v := r.Values[j]; !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// CustomFunc computes a caller defined feature vector.
type CustomFunc func(Block) ([]Cell, error)

// Params holds the defaults ParseOperation applies to parameterized operations.
type Params struct {
	Threshold  float64
	SubWindows int
	SampleRate float64
	ClassMap   *ClassMap
}

// Operation is one resolved feature computation.
type Operation struct {
	Kind       OpKind
	Threshold  float64
	SubWindows int
	// SampleRate in Hz; zero estimates it from the window length.
	SampleRate float64
	ClassMap   *ClassMap

	// Name, Outputs and Func describe a custom operation.
	Name    string
	Outputs []string
	Func    CustomFunc
}

// Custom returns an operation running fn. outputs names its cells and may be nil.
func Custom(name string, outputs []string, fn CustomFunc) Operation {
	return Operation{Kind: OpCustom, Name: name, Outputs: outputs, Func: fn}
}

// ParseOperation resolves "name" or "name:arg" into an operation. The argument
// overrides the threshold, the sub-window count or the sample rate.
func ParseOperation(s string, p Params) (Operation, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(s), ":")
	op := Operation{
		Kind:       OpKind(strings.ToLower(strings.TrimSpace(name))),
		Threshold:  p.Threshold,
		SubWindows: p.SubWindows,
		SampleRate: p.SampleRate,
	}
	if op.SubWindows <= 0 {
		op.SubWindows = defaultSubWindows
	}

	switch op.Kind {
	case OpMean, OpStd, OpMax, OpMin, OpRange, OpAmplitude, OpMeanDistance, OpENMO, OpVMMean, OpCount:
		if hasArg {
			return Operation{}, fmt.Errorf("operation %s takes no argument", op.Kind)
		}
	case OpActivePerc, OpActivationCount, OpActivationStd:
		if hasArg {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return Operation{}, fmt.Errorf("operation %s: bad threshold %q", op.Kind, arg)
			}
			op.Threshold = v
		}
	case OpOrientation:
		if hasArg {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return Operation{}, fmt.Errorf("operation %s: bad sub-window count %q", op.Kind, arg)
			}
			op.SubWindows = n
		}
	case OpFreq:
		if hasArg {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil || v <= 0 {
				return Operation{}, fmt.Errorf("operation %s: bad sample rate %q", op.Kind, arg)
			}
			op.SampleRate = v
		}
	case OpLabel:
		if hasArg {
			return Operation{}, fmt.Errorf("operation %s takes no argument", op.Kind)
		}
		op.ClassMap = p.ClassMap
	default:
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// ParseOperations resolves a list of operation names.
func ParseOperations(specs []string, p Params) ([]Operation, error) {
	ops := make([]Operation, 0, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		op, err := ParseOperation(s, p)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrUnknownOperation)
	}
	return ops, nil
}

// Names returns the output column names of op for a table with schema.
func (op Operation) Names(schema chunk.Schema) ([]string, error) {
	cols := schema.ValueColumns
	prefixed := func(prefix string) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = prefix + "_" + c
		}
		return out
	}

	switch op.Kind {
	case OpMean, OpStd, OpMax, OpMin, OpRange, OpAmplitude, OpMeanDistance, OpActivePerc, OpActivationCount, OpActivationStd:
		return prefixed(strings.ToUpper(string(op.Kind))), nil
	case OpENMO, OpVMMean:
		if len(cols) < 3 {
			return nil, fmt.Errorf("operation %s needs 3 value columns, got %d", op.Kind, len(cols))
		}
		return []string{strings.ToUpper(string(op.Kind))}, nil
	case OpOrientation:
		if len(cols) < 3 {
			return nil, fmt.Errorf("operation %s needs 3 value columns, got %d", op.Kind, len(cols))
		}
		out := make([]string, 0, 6)
		for _, c := range cols[:3] {
			out = append(out, "MEDIAN_ANGLE_"+c)
		}
		for _, c := range cols[:3] {
			out = append(out, "RANGE_ANGLE_"+c)
		}
		return out, nil
	case OpFreq:
		out := make([]string, 0, 3*len(cols))
		for _, prefix := range []string{"DOM_FREQ_", "DOM_FREQ_RATIO_", "HIGHEND_RATIO_"} {
			for _, c := range cols {
				out = append(out, prefix+c)
			}
		}
		return out, nil
	case OpLabel:
		if len(schema.LabelColumns) == 0 {
			return nil, fmt.Errorf("operation %s needs a label column", op.Kind)
		}
		if op.ClassMap != nil {
			return append([]string(nil), op.ClassMap.Columns...), nil
		}
		return []string{"LABEL"}, nil
	case OpCount:
		return []string{"COUNT"}, nil
	case OpCustom:
		if op.Outputs == nil {
			return nil, fmt.Errorf("custom operation %s has no declared outputs", op.Name)
		}
		return append([]string(nil), op.Outputs...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Kind)
	}
}

// Names returns the concatenated output names of ops, in order.
func Names(ops []Operation, schema chunk.Schema) ([]string, error) {
	var out []string
	for _, op := range ops {
		n, err := op.Names(schema)
		if err != nil {
			return nil, err
		}
		out = append(out, n...)
	}
	return out, nil
}

// Eval runs op on a non-empty block.
func (op Operation) Eval(b Block) ([]Cell, error) {
	cols := len(b.Schema.ValueColumns)
	perColumn := func(f func([]float64) float64) []Cell {
		out := make([]Cell, cols)
		for j := 0; j < cols; j++ {
			out[j] = Number(f(b.finite(j)))
		}
		return out
	}

	switch op.Kind {
	case OpMean:
		return perColumn(mean), nil
	case OpStd:
		return perColumn(popStd), nil
	case OpMax:
		return perColumn(maxOf), nil
	case OpMin:
		return perColumn(minOf), nil
	case OpRange:
		return perColumn(func(x []float64) float64 { return maxOf(x) - minOf(x) }), nil
	case OpAmplitude:
		return perColumn(func(x []float64) float64 {
			abs := make([]float64, len(x))
			for i, v := range x {
				abs[i] = math.Abs(v)
			}
			return maxOf(abs)
		}), nil
	case OpMeanDistance:
		return perColumn(meanDistance), nil
	case OpActivePerc:
		return perColumn(func(x []float64) float64 { return activePerc(x, op.Threshold) }), nil
	case OpActivationCount:
		return perColumn(func(x []float64) float64 { return activationCount(x, op.Threshold) }), nil
	case OpActivationStd:
		return perColumn(func(x []float64) float64 { return activationStd(x, op.Threshold) }), nil
	case OpENMO, OpVMMean:
		if cols < 3 {
			return nil, fmt.Errorf("operation %s needs 3 value columns, got %d", op.Kind, cols)
		}
		vm := vectorMagnitude(b.Rows)
		if op.Kind == OpENMO {
			for i, v := range vm {
				vm[i] = math.Max(v-1, 0)
			}
		}
		return []Cell{Number(mean(vm))}, nil
	case OpOrientation:
		if cols < 3 {
			return nil, fmt.Errorf("operation %s needs 3 value columns, got %d", op.Kind, cols)
		}
		return orientation(b, op.SubWindows), nil
	case OpFreq:
		rate := op.SampleRate
		if rate <= 0 {
			rate = float64(len(b.Rows)) / (float64(b.Window.Stop-b.Window.Start) / 1000.0)
		}
		// same feature-major order as Names
		out := make([]Cell, 3*cols)
		for j := 0; j < cols; j++ {
			f, ratio, high := frequencyFeatures(b.finite(j), rate)
			out[j], out[cols+j], out[2*cols+j] = Number(f), Number(ratio), Number(high)
		}
		return out, nil
	case OpLabel:
		return op.label(b)
	case OpCount:
		return []Cell{Number(float64(len(b.Rows)))}, nil
	case OpCustom:
		if op.Func == nil {
			return nil, fmt.Errorf("custom operation %s has no function", op.Name)
		}
		return op.Func(b)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Kind)
	}
}

func (op Operation) label(b Block) ([]Cell, error) {
	if len(b.Schema.LabelColumns) == 0 {
		return nil, fmt.Errorf("operation %s needs a label column", op.Kind)
	}
	col := 0
	for i, name := range b.Schema.LabelColumns {
		if name == chunk.ColLabelName {
			col = i
			break
		}
	}

	width := 1
	if op.ClassMap != nil {
		width = len(op.ClassMap.Columns)
	}
	fill := func(s string) []Cell {
		out := make([]Cell, width)
		for i := range out {
			out[i] = Text(s)
		}
		return out
	}

	duration := b.Window.Stop - b.Window.Start
	seen := map[string]struct{}{}
	for _, r := range b.Rows {
		if r.Stop-r.Time < duration {
			return fill(LabelTransition), nil
		}
		seen[strings.ToLower(strings.TrimSpace(r.Labels[col]))] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	joined := strings.Join(labels, "-")

	if op.ClassMap == nil {
		return []Cell{Text(joined)}, nil
	}
	mapped, ok := op.ClassMap.Lookup(joined)
	if !ok {
		return fill(LabelUnknown), nil
	}
	out := make([]Cell, len(mapped))
	for i, s := range mapped {
		out[i] = Text(s)
	}
	return out, nil
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

func popStd(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return math.Sqrt(stat.PopVariance(x, nil))
}

func maxOf(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return floats.Max(x)
}

func minOf(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return floats.Min(x)
}

func meanDistance(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	m := stat.Mean(x, nil)
	var sum float64
	for _, v := range x {
		sum += math.Abs(v - m)
	}
	return sum / float64(len(x))
}

func activePerc(x []float64, threshold float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	active := 0
	for _, v := range x {
		if v >= threshold {
			active++
		}
	}
	return float64(active) / float64(len(x))
}

// activeRuns returns the lengths of the runs of samples at or above threshold.
func activeRuns(x []float64, threshold float64) []int {
	var runs []int
	run := 0
	for _, v := range x {
		if v >= threshold {
			run++
			continue
		}
		if run > 0 {
			runs = append(runs, run)
			run = 0
		}
	}
	if run > 0 {
		runs = append(runs, run)
	}
	return runs
}

// activationCount is the number of upward threshold crossings per active sample.
func activationCount(x []float64, threshold float64) float64 {
	runs := activeRuns(x, threshold)
	active := 0
	for _, r := range runs {
		active += r
	}
	if active == 0 {
		return math.NaN()
	}
	return float64(len(runs)) / float64(active)
}

// activationStd is the spread of active run durations relative to the window length.
// Windows with two crossings or less report 0; single-sample runs are ignored.
func activationStd(x []float64, threshold float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	runs := activeRuns(x, threshold)
	if len(runs) <= 2 {
		return 0
	}
	durations := make([]float64, 0, len(runs))
	for _, r := range runs {
		if r > 1 {
			durations = append(durations, float64(r))
		}
	}
	if len(durations) == 0 {
		return math.NaN()
	}
	return math.Sqrt(stat.PopVariance(durations, nil)) / float64(len(x))
}

// vectorMagnitude returns the magnitude of the first three value columns per row,
// skipping rows with a missing axis.
func vectorMagnitude(rows []chunk.Row) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		x, y, z := r.Values[0], r.Values[1], r.Values[2]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
			continue
		}
		out = append(out, math.Sqrt(x*x+y*y+z*z))
	}
	return out
}

// orientation returns the median and the range of the per sub-window axis angles.
func orientation(b Block, subWindows int) []Cell {
	out := make([]Cell, 6)
	size := len(b.Rows) / subWindows
	if size == 0 {
		for i := range out {
			out[i] = Number(math.NaN())
		}
		return out
	}

	angles := [3][]float64{}
	for i := 0; i < subWindows; i++ {
		sub := Block{Schema: b.Schema, Rows: b.Rows[i*size : (i+1)*size]}
		var m [3]float64
		for axis := 0; axis < 3; axis++ {
			m[axis] = mean(sub.finite(axis))
		}
		vm := math.Sqrt(m[0]*m[0] + m[1]*m[1] + m[2]*m[2])
		for axis := 0; axis < 3; axis++ {
			angles[axis] = append(angles[axis], math.Acos(m[axis]/vm))
		}
	}
	for axis := 0; axis < 3; axis++ {
		out[axis] = Number(median(angles[axis]))
		out[3+axis] = Number(maxOf(angles[axis]) - minOf(angles[axis]))
	}
	return out
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// frequencyFeatures returns the dominant frequency of x, the dominant peak's share of
// the total power and the share of power above 3.5 Hz.
func frequencyFeatures(x []float64, rate float64) (dominant, ratio, highEnd float64) {
	if len(x) < 4 || rate <= 0 || math.IsInf(rate, 0) {
		return math.NaN(), math.NaN(), math.NaN()
	}
	freqs, psd := periodogram(x, rate)

	total := floats.Sum(psd)
	peak := -1
	for k := 1; k < len(psd)-1; k++ {
		if psd[k] > psd[k-1] && psd[k] >= psd[k+1] && (peak < 0 || psd[k] > psd[peak]) {
			peak = k
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	if peak >= 0 {
		dominant = freqs[peak]
		ratio = psd[peak] / total
	}
	var high float64
	for k, f := range freqs {
		if f > highEndHz {
			high += psd[k]
		}
	}
	return dominant, ratio, high / total
}

// periodogram is the one sided power spectral density of x, mean detrended and
// tapered with a periodic Hamming window.
func periodogram(x []float64, rate float64) (freqs, psd []float64) {
	n := len(x)
	m := stat.Mean(x, nil)
	seq := make([]float64, n)
	var wss float64
	for i, v := range x {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n))
		seq[i] = (v - m) * w
		wss += w * w
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, seq)
	scale := 1 / (rate * wss)
	freqs = make([]float64, len(coeff))
	psd = make([]float64, len(coeff))
	for k, c := range coeff {
		p := (real(c)*real(c) + imag(c)*imag(c)) * scale
		if k != 0 && (n%2 == 1 || k != n/2) {
			p *= 2
		}
		freqs[k] = fft.Freq(k) * rate
		psd[k] = p
	}
	return freqs, psd
}
