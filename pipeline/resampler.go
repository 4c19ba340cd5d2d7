package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/resample"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// Resampler interpolates sensor chunks onto a uniform clock. Neighbor rows only
// steer the interpolation near the hour edges; output rows stay inside the chunk.
type Resampler struct {
	Set          string
	Rate         float64
	GapThreshold time.Duration
	Method       resample.Method
	FillGaps     bool
	Sessions     *chunk.Sessions
}

func (p *Resampler) Name() string { return "resample" }
func (p *Resampler) Kind() chunk.Kind { return chunk.KindSensor }
func (p *Resampler) SetName() string { return p.Set }
func (p *Resampler) OutputKind() chunk.Kind { return chunk.KindSensor }
func (p *Resampler) DataType() string { return "" }
func (p *Resampler) UsesContext() bool { return true }

func (p *Resampler) Validate() error {
	if p.Rate < 0 {
		return fmt.Errorf("resample: negative rate %v", p.Rate)
	}
	switch p.Method {
	case "", resample.MethodSpline, resample.MethodLinear:
		return nil
	default:
		return fmt.Errorf("resample: unknown method %q", p.Method)
	}
}

func (p *Resampler) Process(ctx context.Context, job *Job) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := job.Stream
	frame := &Frame{
		TimeColumns: []string{m.Table.Schema.TimeColumn},
		Columns:     append([]string(nil), m.Table.Schema.ValueColumns...),
	}
	if m.Empty() {
		return frame, nil
	}

	if p.Rate == 0 {
		job.Logger.Info("no sampling rate configured, interpolation skipped")
		return frameFromTable(m.Own()), nil
	}

	start, stop := *m.OwnStart, *m.OwnStop
	clip := resample.Range{Start: start, Stop: stop}
	if s, e, ok := p.Sessions.Bounds(job.ID.ParticipantID); ok {
		clip.Start = max(clip.Start, s)
		clip.Stop = min(clip.Stop, e+1)
	}
	out, err := resample.Resample(m.Table, resample.Options{
		Rate:         p.Rate,
		GapThreshold: p.GapThreshold,
		FillGaps:     p.FillGaps,
		Method:       p.Method,
		Start:        &start,
		Stop:         &stop,
		Clip:         &clip,
	})
	if err != nil {
		return nil, err
	}
	job.Logger.Debug("resampled", zap.Int("in", m.Table.Len()), zap.Int("out", out.Len()))
	return frameFromTable(out), nil
}

// frameFromTable renders the numeric columns of a point table.
func frameFromTable(t chunk.Table) *Frame {
	f := &Frame{
		TimeColumns: []string{t.Schema.TimeColumn},
		Columns:     append([]string(nil), t.Schema.ValueColumns...),
		Rows:        make([]FrameRow, len(t.Rows)),
	}
	for i, r := range t.Rows {
		cells := make([]window.Cell, len(r.Values))
		for j, v := range r.Values {
			cells[j] = window.Number(v)
		}
		f.Rows[i] = FrameRow{Times: []int64{r.Time}, Cells: cells}
	}
	return f
}
