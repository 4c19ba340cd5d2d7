package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/mhtime"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// Run discovers the chunks under opts.Root, processes them on a bounded worker pool
// and assembles their outputs in resolved chunk order. A failing chunk is reported
// in Result.Chunks and does not stop its siblings; discovery, ordering and
// validation errors abort the batch.
func Run(ctx context.Context, opts Options) (*Result, error) {
	proc := opts.Processor
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if strings.TrimSpace(opts.Root) == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "csv"
	}
	if format != "parquet" && format != "csv" {
		return nil, fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("processor", proc.Name()))

	ids, err := chunk.Discover(opts.Root, matcher(opts, proc))
	if err != nil {
		return nil, err
	}
	res, err := chunk.Resolve(ids, opts.Independent)
	if err != nil {
		return nil, err
	}
	if err := proc.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", proc.Name(), err)
	}
	if opts.OutDir != "" {
		if err := ensureOutputDir(opts.OutDir, opts.Overwrite); err != nil {
			return nil, err
		}
	}
	logger.Info("chunks resolved", zap.Int("chunks", len(res.Order)), zap.Int("workers", opts.Workers))

	result := &Result{
		RunID:     uuid.NewString(),
		OutputDir: opts.OutDir,
		Chunks:    make([]ChunkReport, len(res.Order)),
	}
	frames := make([]*Frame, len(res.Order))
	grids := participantGrids(res.Order)

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i := range res.Order {
		if ctx.Err() != nil {
			result.Chunks[i] = canceledReport(i, res, ctx.Err())
			continue
		}
		g.Go(func() error {
			start := time.Now()
			rep, frame := processChunk(ctx, opts, proc, res, i, grids, logger)
			rep.DurationMS = time.Since(start).Milliseconds()
			opts.Metrics.observe(proc.Name(), rep, time.Since(start))
			result.Chunks[i], frames[i] = rep, frame
			return nil
		})
	}
	_ = g.Wait()

	result.Aggregate = aggregate(result.Chunks, frames, res, chunkKind(opts, proc), logger)
	failed := len(result.Failed())
	logger.Info("batch finished", zap.Int("chunks", len(res.Order)), zap.Int("failed", failed))

	if opts.OutDir != "" {
		if err := writeBatch(opts, proc, format, result); err != nil {
			return result, err
		}
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch interrupted: %w", err)
	}
	return result, nil
}

func chunkKind(opts Options, proc Processor) chunk.Kind {
	if opts.Kind != "" {
		return opts.Kind
	}
	return proc.Kind()
}

// matcher selects files of the processed kind under the source folder.
func matcher(opts Options, proc Processor) func(chunk.Identity) bool {
	kind := chunkKind(opts, proc)
	source := "/" + strings.Trim(filepath.ToSlash(opts.Source), "/") + "/"
	return func(id chunk.Identity) bool {
		if kind != "" && id.Kind != kind {
			return false
		}
		if !strings.Contains(filepath.ToSlash(id.Path), source) {
			return false
		}
		if opts.PID != "" && id.ParticipantID != opts.PID {
			return false
		}
		if opts.SensorType != "" && !strings.HasPrefix(id.SensorType, opts.SensorType) {
			return false
		}
		return true
	}
}

func canceledReport(i int, res *chunk.Resolution, err error) ChunkReport {
	return ChunkReport{Index: i, ID: res.Order[i], Status: StatusCanceled, Error: err.Error(), err: err}
}

func processChunk(ctx context.Context, opts Options, proc Processor, res *chunk.Resolution, i int, grids map[string]window.Bounds, logger *zap.Logger) (ChunkReport, *Frame) {
	id := res.Order[i]
	logger = logger.With(zap.Int("index", i), zap.String("file", filepath.Base(id.Path)))
	rep := ChunkReport{Index: i, ID: id}
	fail := func(err error) (ChunkReport, *Frame) {
		rep.Status, rep.Error, rep.err = StatusFailed, err.Error(), err
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			rep.Status = StatusCanceled
		}
		logger.Warn("chunk failed", zap.Error(err))
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		return canceledReport(i, res, err), nil
	}

	loaded, err := chunk.Load(id, chunk.LoadOptions{Strict: opts.Strict})
	if err != nil {
		return fail(err)
	}
	own := loaded.Chunk.Table
	rep.Rows, rep.Rejected = own.Len(), len(loaded.Rejected)
	if rep.Rejected > 0 {
		logger.Warn("rows rejected", zap.Int("rejected", rep.Rejected),
			zap.Int("first_line", loaded.Rejected[0].Line), zap.String("reason", loaded.Rejected[0].Reason))
	}

	job := &Job{Index: i, ID: id, Rejected: rep.Rejected, Logger: logger}
	if g, ok := grids[id.ParticipantID]; ok {
		job.Grid = &g
	}
	useContext := proc.UsesContext() && !opts.Independent
	var prev, next *chunk.Table
	if p, ok := res.Prev(i); ok {
		job.Prev, rep.PrevPath = &p, p.Path
		if useContext {
			prev = loadNeighbor(p, logger)
		}
	}
	if n, ok := res.Next(i); ok {
		job.Next, rep.NextPath = &n, n.Path
		if useContext {
			next = loadNeighbor(n, logger)
		}
	}

	merged := chunk.Merge(own, prev, next)
	before, after := merged.Context()
	rep.ContextRows = before + after
	job.Stream = merged
	logger.Debug("chunk merged", zap.Int("rows", rep.Rows), zap.Int("prev_rows", before), zap.Int("next_rows", after))

	frame, err := proc.Process(ctx, job)
	if err != nil {
		return fail(err)
	}
	rep.OutputRows = len(frame.Rows)
	for _, r := range frame.Rows {
		if r.Empty {
			rep.EmptyRows++
		}
	}

	if opts.ChunkOutputs && proc.OutputKind() != "" {
		path := id.DerivedPath(proc.SetName(), proc.OutputKind(), proc.DataType())
		if !opts.Overwrite {
			if _, err := os.Stat(path); err == nil {
				return fail(fmt.Errorf("output exists: %s (set overwrite=true to allow)", path))
			}
		}
		if err := writeFrameCSV(path, frame); err != nil {
			return fail(fmt.Errorf("write %s: %w", path, err))
		}
		rep.OutputPath = path
	}
	rep.Status = StatusOK
	return rep, frame
}

// participantGrids spans the resolved hours of each participant. Windows planned from
// a grid start line up across all of that participant's chunks.
func participantGrids(ids []chunk.Identity) map[string]window.Bounds {
	hours := make(map[string][]window.Bounds)
	for _, id := range ids {
		h := hourStart(id)
		hours[id.ParticipantID] = append(hours[id.ParticipantID], window.Bounds{Start: h, Stop: h + mhtime.Hour})
	}
	grids := make(map[string]window.Bounds, len(hours))
	for pid, b := range hours {
		if g, err := window.SyncBounds(false, b...); err == nil {
			grids[pid] = g
		}
	}
	return grids
}

// loadNeighbor returns the payload of a neighbor chunk, or nil when it cannot be read.
func loadNeighbor(id chunk.Identity, logger *zap.Logger) *chunk.Table {
	loaded, err := chunk.Load(id, chunk.LoadOptions{})
	if err != nil {
		logger.Warn("neighbor skipped", zap.String("neighbor", id.Path), zap.Error(err))
		return nil
	}
	return &loaded.Chunk.Table
}

// aggregate concatenates the frames of finished chunks in resolved order with the
// participant and instrument appended. A frame whose columns differ from the first
// one fails its chunk.
func aggregate(reports []ChunkReport, frames []*Frame, res *chunk.Resolution, kind chunk.Kind, logger *zap.Logger) *Frame {
	instrument := instrumentColumn(kind)
	var agg *Frame
	for i, f := range frames {
		if f == nil || reports[i].Status != StatusOK {
			continue
		}
		id := res.Order[i]
		tagged := &Frame{
			TimeColumns: f.TimeColumns,
			Columns:     append(append([]string(nil), f.Columns...), "PID", instrument),
		}
		if agg == nil {
			agg = &Frame{TimeColumns: tagged.TimeColumns, Columns: tagged.Columns}
		} else if !agg.sameShape(tagged) {
			err := fmt.Errorf("%w: columns %v differ from %v", window.ErrShapeMismatch, tagged.Header(), agg.Header())
			reports[i].Status, reports[i].Error, reports[i].err = StatusFailed, err.Error(), err
			logger.Warn("chunk left out of aggregate", zap.String("file", id.Path), zap.Error(err))
			continue
		}
		for _, r := range f.Rows {
			cells := make([]window.Cell, 0, len(r.Cells)+2)
			cells = append(cells, r.Cells...)
			cells = append(cells, window.Text(id.ParticipantID), window.Text(id.InstrumentID))
			agg.Rows = append(agg.Rows, FrameRow{Times: r.Times, Cells: cells, Empty: r.Empty})
		}
	}
	return agg
}

func writeBatch(opts Options, proc Processor, format string, result *Result) error {
	manifest := Manifest{
		FormatVersion: ManifestFormatVersion,
		RunID:         result.RunID,
		GeneratedAt:   time.Now().UTC(),
		Processor:     proc.Name(),
		Root:          opts.Root,
		Source:        opts.Source,
		Format:        format,
		Workers:       opts.Workers,
		Independent:   opts.Independent,
		ChunkCount:    len(result.Chunks),
		FailedCount:   len(result.Failed()),
		Chunks:        result.Chunks,
	}
	if agg := result.Aggregate; agg != nil {
		path := filepath.Join(opts.OutDir, proc.Name()+"."+formatExtension(format))
		var err error
		switch format {
		case "csv":
			err = writeFrameCSV(path, agg)
		case "parquet":
			err = writeFrameParquet(path, agg)
		}
		if err != nil {
			return fmt.Errorf("write aggregate %s: %w", format, err)
		}
		result.AggregatePath = path
		manifest.AggregatePath = path
		manifest.AggregateRows = len(agg.Rows)
		manifest.Columns = agg.Header()
	}
	result.ManifestPath = filepath.Join(opts.OutDir, "manifest.json")
	if err := writeJSON(result.ManifestPath, manifest); err != nil {
		return fmt.Errorf("write manifest.json: %w", err)
	}
	return nil
}
