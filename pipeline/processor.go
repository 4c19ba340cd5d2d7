package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/config"
	"github.com/lucasjlepore/mhealth-windows/resample"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// Processor turns one merged chunk into an output frame. Implementations must be
// safe for concurrent use; Process is called from several workers at once.
type Processor interface {
	Name() string
	// Kind is the input file kind; empty accepts every kind.
	Kind() chunk.Kind
	// SetName is the Derived/<set> folder of per chunk outputs.
	SetName() string
	// OutputKind replaces the kind token of per chunk outputs; empty writes none.
	OutputKind() chunk.Kind
	// DataType replaces the data type token of per chunk outputs; empty keeps it.
	DataType() string
	// UsesContext reports whether neighbor chunks are loaded and merged.
	UsesContext() bool
	// Validate checks batch wide settings before any chunk is processed.
	Validate() error
	Process(ctx context.Context, job *Job) (*Frame, error)
}

// Job is the input of one Process call.
type Job struct {
	Index    int
	ID       chunk.Identity
	Prev     *chunk.Identity
	Next     *chunk.Identity
	Stream   *chunk.MergedStream
	Rejected int
	// Grid spans every resolved hour of the participant; nil plans from the data.
	Grid   *window.Bounds
	Logger *zap.Logger
}

// NewProcessor builds the processor named by cfg.Processor.
func NewProcessor(cfg *config.Config) (Processor, error) {
	var sessions *chunk.Sessions
	if cfg.Sessions != "" {
		s, err := chunk.LoadSessions(cfg.Sessions)
		if err != nil {
			return nil, err
		}
		sessions = s
	}

	switch cfg.Processor {
	case config.ProcessorFeatures:
		ops, err := window.ParseOperations(cfg.Ops, window.Params{
			Threshold:  cfg.Threshold,
			SubWindows: cfg.SubWindows,
		})
		if err != nil {
			return nil, err
		}
		return &Features{
			Set:      setOr(cfg.SetName, "TimeFreq"),
			Window:   cfg.Window(),
			Step:     cfg.Step(),
			Ops:      ops,
			Sessions: sessions,
		}, nil
	case config.ProcessorLabels:
		var cm *window.ClassMap
		if cfg.ClassMap != "" {
			m, err := window.LoadClassMap(cfg.ClassMap)
			if err != nil {
				return nil, err
			}
			cm = m
		}
		return &Labels{
			Set:      setOr(cfg.SetName, "ClassLabels"),
			Window:   cfg.Window(),
			Step:     cfg.Step(),
			ClassMap: cm,
			Sessions: sessions,
		}, nil
	case config.ProcessorResample:
		return &Resampler{
			Set:          setOr(cfg.SetName, "Resampled"),
			Rate:         cfg.Rate,
			GapThreshold: cfg.GapThreshold(),
			Method:       resample.Method(cfg.Method),
			FillGaps:     cfg.FillGaps,
			Sessions:     sessions,
		}, nil
	case config.ProcessorSummary:
		return &Summary{}, nil
	default:
		return nil, fmt.Errorf("unknown processor %q", cfg.Processor)
	}
}

func setOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// planBounds returns the span windows are planned over: the participant's session
// when known, otherwise the extent of t with its start moved back onto the job grid so
// that consecutive hours share window boundaries.
func planBounds(sessions *chunk.Sessions, job *Job, t chunk.Table, step time.Duration) (start, stop int64, ok bool) {
	if start, stop, ok := sessions.Bounds(job.ID.ParticipantID); ok {
		return start, stop, true
	}
	start, stop, ok = t.Bounds()
	s := step.Milliseconds()
	if !ok || job.Grid == nil || s <= 0 || start < job.Grid.Start {
		return start, stop, ok
	}
	return job.Grid.Start + (start-job.Grid.Start)/s*s, stop, true
}

// instrumentColumn names the aggregate column holding the instrument id.
func instrumentColumn(kind chunk.Kind) string {
	if kind == chunk.KindAnnotation {
		return "ANNOTATOR"
	}
	return "SID"
}
