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

// Features computes time and frequency domain features over sliding windows of
// sensor chunks.
type Features struct {
	Set      string
	Window   time.Duration
	Step     time.Duration
	Ops      []window.Operation
	Sessions *chunk.Sessions
}

func (p *Features) Name() string { return "features" }
func (p *Features) Kind() chunk.Kind { return chunk.KindSensor }
func (p *Features) SetName() string { return p.Set }
func (p *Features) OutputKind() chunk.Kind { return chunk.KindFeature }
func (p *Features) DataType() string { return "TimeFreq" }
func (p *Features) UsesContext() bool { return true }

func (p *Features) Validate() error {
	if len(p.Ops) == 0 {
		return fmt.Errorf("features: no operations configured")
	}
	return window.ValidateForChunks(p.Window, p.Step)
}

func (p *Features) Process(ctx context.Context, job *Job) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := job.Stream
	names, err := window.Names(p.Ops, m.Table.Schema)
	if err != nil {
		return nil, err
	}
	frame := &Frame{TimeColumns: []string{chunk.ColStartTime, chunk.ColStopTime}, Columns: names}
	if m.Empty() {
		return frame, nil
	}

	start, stop, _ := planBounds(p.Sessions, job, m.Table, p.Step)
	windows, err := window.Plan(start, stop, p.Window, p.Step)
	if err != nil {
		return nil, err
	}
	owned := window.Owned(windows, *m.OwnStart, *m.OwnStop)
	ops := p.withSampleRate(m.Table, job.Logger)
	job.Logger.Debug("planned windows", zap.Int("session", len(windows)), zap.Int("owned", len(owned)))

	ft, err := window.Apply(m.Table, owned, ops, window.ApplyOptions{ColumnNames: names})
	if err != nil {
		return nil, err
	}
	return frameFromFeatures(ft), nil
}

// withSampleRate fills the rate of frequency operations that have none with the
// rate estimated from the merged stream.
func (p *Features) withSampleRate(t chunk.Table, logger *zap.Logger) []window.Operation {
	ops := append([]window.Operation(nil), p.Ops...)
	var rate float64
	for i := range ops {
		if ops[i].Kind != window.OpFreq || ops[i].SampleRate > 0 {
			continue
		}
		if rate == 0 {
			r, err := resample.EstimateRate(t)
			if err != nil {
				logger.Debug("sampling rate unknown, estimating per window", zap.Error(err))
				return ops
			}
			rate = r
		}
		ops[i].SampleRate = rate
	}
	return ops
}

func frameFromFeatures(ft *window.FeatureTable) *Frame {
	f := &Frame{
		TimeColumns: []string{chunk.ColStartTime, chunk.ColStopTime},
		Columns:     ft.Columns,
		Rows:        make([]FrameRow, len(ft.Rows)),
	}
	for i, r := range ft.Rows {
		f.Rows[i] = FrameRow{Times: []int64{r.Start, r.Stop}, Cells: r.Values, Empty: r.Empty}
	}
	return f
}
