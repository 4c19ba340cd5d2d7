package pipeline

import (
	"context"
	"time"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// Labels assigns one class label per sliding window of annotation chunks.
type Labels struct {
	Set      string
	Window   time.Duration
	Step     time.Duration
	ClassMap *window.ClassMap
	Sessions *chunk.Sessions
}

func (p *Labels) Name() string { return "labels" }
func (p *Labels) Kind() chunk.Kind { return chunk.KindAnnotation }
func (p *Labels) SetName() string { return p.Set }
func (p *Labels) OutputKind() chunk.Kind { return chunk.KindClass }
func (p *Labels) DataType() string { return "" }
func (p *Labels) UsesContext() bool { return true }

func (p *Labels) Validate() error {
	return window.ValidateForChunks(p.Window, p.Step)
}

func (p *Labels) Process(ctx context.Context, job *Job) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := job.Stream
	ops := []window.Operation{{Kind: window.OpLabel, ClassMap: p.ClassMap}}
	names, err := window.Names(ops, m.Table.Schema)
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

	unknown := window.Text(window.LabelUnknown)
	ft, err := window.Apply(m.Table, owned, ops, window.ApplyOptions{
		Placeholder: &unknown,
		ColumnNames: names,
		Interval:    true,
	})
	if err != nil {
		return nil, err
	}
	return frameFromFeatures(ft), nil
}
