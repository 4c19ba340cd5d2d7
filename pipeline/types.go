package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// ManifestFormatVersion identifies the manifest.json schema.
const ManifestFormatVersion = "mh_windows_manifest_v1"

// DefaultSource is the folder whose files are processed when Options.Source is empty.
const DefaultSource = "MasterSynced"

// Options configures one batch run.
type Options struct {
	Root      string
	Processor Processor
	// OutDir receives the aggregate table and manifest.json. Empty skips both.
	OutDir string
	Format string // csv|parquet
	// Source is the folder a file must live under, e.g. MasterSynced or Derived/Resampled.
	Source     string
	PID        string
	SensorType string
	// Kind overrides the processor's input kind.
	Kind chunk.Kind
	// Workers bounds the number of chunks processed concurrently.
	Workers int
	// Independent processes every chunk without neighbor context.
	Independent bool
	// Strict fails a chunk on any rejected input row.
	Strict bool
	// ChunkOutputs writes one derived file per chunk next to the source tree.
	ChunkOutputs bool
	Overwrite    bool

	Logger  *zap.Logger
	Metrics *Metrics
}

// ChunkStatus is the outcome of one chunk.
type ChunkStatus string

const (
	StatusOK       ChunkStatus = "ok"
	StatusFailed   ChunkStatus = "failed"
	StatusCanceled ChunkStatus = "canceled"
)

// ChunkReport describes what happened to one chunk.
type ChunkReport struct {
	Index       int            `json:"index"`
	ID          chunk.Identity `json:"id"`
	PrevPath    string         `json:"prev_path,omitempty"`
	NextPath    string         `json:"next_path,omitempty"`
	Status      ChunkStatus    `json:"status"`
	Error       string         `json:"error,omitempty"`
	Rows        int            `json:"rows"`
	Rejected    int            `json:"rejected"`
	ContextRows int            `json:"context_rows"`
	OutputRows  int            `json:"output_rows"`
	EmptyRows   int            `json:"empty_rows"`
	OutputPath  string         `json:"output_path,omitempty"`
	DurationMS  int64          `json:"duration_ms"`

	err error
}

// Err returns the chunk's processing error.
func (r ChunkReport) Err() error {
	return r.err
}

// Result describes a finished batch.
type Result struct {
	RunID         string        `json:"run_id"`
	OutputDir     string        `json:"output_dir,omitempty"`
	AggregatePath string        `json:"aggregate_path,omitempty"`
	ManifestPath  string        `json:"manifest_path,omitempty"`
	Chunks        []ChunkReport `json:"chunks"`
	// Aggregate holds every chunk's output in resolved chunk order.
	Aggregate *Frame `json:"-"`
}

// Failed returns the reports of chunks that did not finish.
func (r *Result) Failed() []ChunkReport {
	var out []ChunkReport
	for _, c := range r.Chunks {
		if c.Status != StatusOK {
			out = append(out, c)
		}
	}
	return out
}

// Frame is a processor's tabular output. Times render as timestamps, cells as
// numbers or text.
type Frame struct {
	TimeColumns []string
	Columns     []string
	Rows        []FrameRow
}

// FrameRow is one output row.
type FrameRow struct {
	Times []int64
	Cells []window.Cell
	// Empty marks a placeholder row of a window without data.
	Empty bool
}

// Header returns every column name in output order.
func (f *Frame) Header() []string {
	out := append([]string(nil), f.TimeColumns...)
	return append(out, f.Columns...)
}

// sameShape reports whether o can be appended to f.
func (f *Frame) sameShape(o *Frame) bool {
	if len(f.TimeColumns) != len(o.TimeColumns) || len(f.Columns) != len(o.Columns) {
		return false
	}
	for i := range f.TimeColumns {
		if f.TimeColumns[i] != o.TimeColumns[i] {
			return false
		}
	}
	for i := range f.Columns {
		if f.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

// Manifest captures a run's settings and per chunk outcome.
type Manifest struct {
	FormatVersion string        `json:"format_version"`
	RunID         string        `json:"run_id"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Processor     string        `json:"processor"`
	Root          string        `json:"root"`
	Source        string        `json:"source"`
	Format        string        `json:"format"`
	Workers       int           `json:"workers"`
	Independent   bool          `json:"independent"`
	ChunkCount    int           `json:"chunk_count"`
	FailedCount   int           `json:"failed_count"`
	AggregatePath string        `json:"aggregate_path,omitempty"`
	AggregateRows int           `json:"aggregate_rows"`
	Columns       []string      `json:"columns,omitempty"`
	Chunks        []ChunkReport `json:"chunks"`
}
