package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/mhtime"
	"github.com/lucasjlepore/mhealth-windows/resample"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// SummaryColumns are the value columns of the summary table.
var SummaryColumns = []string{
	"FILE", "KIND", "ROWS", "REJECTED", "SAMPLING_RATE", "MIN_VALUE", "MAX_VALUE", "PREV_FILE", "NEXT_FILE",
}

// Summary describes every chunk with one row and writes no per chunk files.
type Summary struct{}

func (Summary) Name() string { return "summary" }
func (Summary) Kind() chunk.Kind { return "" }
func (Summary) SetName() string { return "" }
func (Summary) OutputKind() chunk.Kind { return "" }
func (Summary) DataType() string { return "" }
func (Summary) UsesContext() bool { return false }
func (Summary) Validate() error { return nil }

func (Summary) Process(ctx context.Context, job *Job) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := job.Stream.Table
	start, stop, ok := t.Bounds()
	if !ok {
		start = hourStart(job.ID)
		stop = start + mhtime.Hour
	}

	rate := math.NaN()
	if job.ID.Kind == chunk.KindSensor {
		if r, err := resample.EstimateRate(t); err == nil {
			rate = r
		}
	}
	lo, hi := valueRange(t)

	row := FrameRow{
		Times: []int64{start, stop},
		Cells: []window.Cell{
			window.Text(filepath.Base(job.ID.Path)),
			window.Text(string(job.ID.Kind)),
			window.Number(float64(t.Len())),
			window.Number(float64(job.Rejected)),
			window.Number(rate),
			window.Number(lo),
			window.Number(hi),
			window.Text(baseOrEmpty(job.Prev)),
			window.Text(baseOrEmpty(job.Next)),
		},
	}
	return &Frame{
		TimeColumns: []string{chunk.ColStartTime, chunk.ColStopTime},
		Columns:     SummaryColumns,
		Rows:        []FrameRow{row},
	}, nil
}

// valueRange returns the smallest and largest finite value over every value column.
func valueRange(t chunk.Table) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, r := range t.Rows {
		for _, v := range r.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	if lo > hi {
		return math.NaN(), math.NaN()
	}
	return lo, hi
}

func hourStart(id chunk.Identity) int64 {
	day, err := time.ParseInLocation("2006-01-02", id.Date, time.UTC)
	if err != nil {
		return 0
	}
	return mhtime.FromTime(day) + int64(id.Hour)*mhtime.Hour
}

func baseOrEmpty(id *chunk.Identity) string {
	if id == nil {
		return ""
	}
	return filepath.Base(id.Path)
}
