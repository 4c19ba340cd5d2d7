package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/lucasjlepore/mhealth-windows/chunk"
	"github.com/lucasjlepore/mhealth-windows/logging"
	"github.com/lucasjlepore/mhealth-windows/pipeline"
)

func main() {
	var (
		root     = flag.String("root", "", "Dataset root directory")
		pid      = flag.String("pid", "", "Only summarize this participant")
		kind     = flag.String("kind", "", "Only summarize files of this kind, e.g. sensor")
		source   = flag.String("source", pipeline.DefaultSource, "Folder the files live under")
		workers  = flag.Int("workers", 4, "Concurrent files")
		logLevel = flag.String("log-level", "warn", "Log level: debug|info|warn|error")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --root DIR [--pid P] [--kind sensor]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*root) == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mh_summary failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pipeline.Run(ctx, pipeline.Options{
		Root:      *root,
		Processor: &pipeline.Summary{},
		Source:    *source,
		PID:       *pid,
		Kind:      chunk.Kind(*kind),
		Workers:   *workers,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mh_summary failed: %v\n", err)
		os.Exit(1)
	}
	if result.Aggregate == nil {
		fmt.Fprintln(os.Stderr, "no files found")
		return
	}

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(result.Aggregate.Header()); err != nil {
		fmt.Fprintf(os.Stderr, "mh_summary failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range result.Aggregate.Rows {
		if err := w.Write(pipeline.FormatRow(r, 3)); err != nil {
			fmt.Fprintf(os.Stderr, "mh_summary failed: %v\n", err)
			os.Exit(1)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "mh_summary failed: %v\n", err)
		os.Exit(1)
	}
	for _, c := range result.Failed() {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", c.ID.Path, c.Error)
	}
}
