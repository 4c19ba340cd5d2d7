package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/config"
	"github.com/lucasjlepore/mhealth-windows/logging"
	"github.com/lucasjlepore/mhealth-windows/pipeline"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Optional config file (yaml, json or toml)")
		root        = flag.String("root", "", "Dataset root directory")
		processor   = flag.String("processor", config.ProcessorFeatures, "Processor: features|labels|resample")
		pid         = flag.String("pid", "", "Only process this participant")
		kind        = flag.String("kind", "", "Override the input file kind, e.g. sensor")
		sensorType  = flag.String("sensor-type", "", "Only process sensor types with this prefix")
		source      = flag.String("source", pipeline.DefaultSource, "Folder the input files live under")
		outDir      = flag.String("out", "", "Directory for the aggregate table and manifest.json")
		format      = flag.String("format", "csv", "Aggregate format: csv|parquet")
		ws          = flag.Int64("ws", 12800, "Window size in milliseconds")
		ss          = flag.Int64("ss", 0, "Window step in milliseconds (defaults to --ws)")
		ops         = flag.String("ops", strings.Join(config.DefaultOps, ","), "Comma separated feature operations")
		threshold   = flag.Float64("threshold", 0.2, "Activation threshold")
		sessions    = flag.String("sessions", "", "Sessions csv with START_TIME,STOP_TIME,PID")
		classMap    = flag.String("class-map", "", "Class map csv for the labels processor")
		rate        = flag.Float64("rate", 0, "Resampling rate in Hz (0 copies the rows through)")
		gap         = flag.Int64("gap", 1000, "Largest gap in milliseconds interpolated across")
		method      = flag.String("method", "spline", "Interpolation: spline|linear")
		workers     = flag.Int("workers", 0, "Concurrent chunks (defaults to NumCPU-1)")
		independent = flag.Bool("independent", false, "Process chunks without neighbor context")
		strict      = flag.Bool("strict", false, "Fail a chunk on any rejected row")
		chunkOut    = flag.Bool("chunk-outputs", true, "Write one Derived file per chunk")
		overwrite   = flag.Bool("overwrite", false, "Allow replacing existing outputs")
		metricsPath = flag.String("metrics", "", "Write prometheus metrics to this file")
		logLevel    = flag.String("log-level", "info", "Log level: debug|info|warn|error")
		logFormat   = flag.String("log-format", "json", "Log format: json|console")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --root DIR --processor features|labels|resample [--config f] [--out DIR] [--format csv|parquet]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mh_process failed: %v\n", err)
		os.Exit(1)
	}
	// explicitly set flags win over the config file and the environment
	windowSet, stepSet := false, false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Root = *root
		case "processor":
			cfg.Processor = *processor
		case "pid":
			cfg.PID = *pid
		case "kind":
			cfg.Kind = *kind
		case "sensor-type":
			cfg.SensorType = *sensorType
		case "source":
			cfg.Source = *source
		case "out":
			cfg.OutDir = *outDir
		case "format":
			cfg.Format = *format
		case "ws":
			cfg.WindowMS, windowSet = *ws, true
		case "ss":
			cfg.StepMS, stepSet = *ss, true
		case "ops":
			cfg.Ops = splitList(*ops)
		case "threshold":
			cfg.Threshold = *threshold
		case "sessions":
			cfg.Sessions = *sessions
		case "class-map":
			cfg.ClassMap = *classMap
		case "rate":
			cfg.Rate = *rate
		case "gap":
			cfg.GapThresholdMS = *gap
		case "method":
			cfg.Method = *method
		case "workers":
			cfg.Workers = *workers
		case "independent":
			cfg.Independent = *independent
		case "strict":
			cfg.Strict = *strict
		case "chunk-outputs":
			cfg.ChunkOutputs = *chunkOut
		case "overwrite":
			cfg.Overwrite = *overwrite
		case "metrics":
			cfg.Metrics = *metricsPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})
	// a window given on the command line brings its own default step
	if windowSet && !stepSet {
		cfg.StepMS = cfg.WindowMS
	}
	if strings.TrimSpace(cfg.Root) == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "mh_process: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mh_process failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("batch failed", zap.Error(err))
		_ = logger.Sync()
		fmt.Fprintf(os.Stderr, "mh_process failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	proc, err := pipeline.NewProcessor(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx, pipeline.Options{
		Root:         cfg.Root,
		Processor:    proc,
		OutDir:       cfg.OutDir,
		Format:       cfg.Format,
		Source:       cfg.Source,
		PID:          cfg.PID,
		SensorType:   cfg.SensorType,
		Kind:         chunk.Kind(cfg.Kind),
		Workers:      cfg.Workers,
		Independent:  cfg.Independent,
		Strict:       cfg.Strict,
		ChunkOutputs: cfg.ChunkOutputs,
		Overwrite:    cfg.Overwrite,
		Logger:       logger,
		Metrics:      metrics,
	})
	if cfg.Metrics != "" {
		if werr := pipeline.WriteTextfile(cfg.Metrics, reg); werr != nil {
			logger.Warn("metrics not written", zap.String("path", cfg.Metrics), zap.Error(werr))
		}
	}
	if err != nil {
		return err
	}

	failed := result.Failed()
	fmt.Printf("mh_process complete\n")
	fmt.Printf("Run id:              %s\n", result.RunID)
	fmt.Printf("Chunks:              %d (%d failed)\n", len(result.Chunks), len(failed))
	if result.AggregatePath != "" {
		fmt.Printf("aggregate:           %s\n", result.AggregatePath)
	}
	if result.ManifestPath != "" {
		fmt.Printf("manifest.json:       %s\n", result.ManifestPath)
	}
	for _, c := range failed {
		fmt.Printf("failed:              %s: %s\n", c.ID.Path, c.Error)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d chunks failed", len(failed), len(result.Chunks))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
