package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
	"github.com/lucasjlepore/mhealth-windows/window"
)

// FloatPrecision is the number of decimals written for numeric cells.
const FloatPrecision = 6

func formatExtension(format string) string {
	if format == "parquet" {
		return "parquet"
	}
	return "csv"
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ensureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

// writeFrameCSV writes f with a header row. Times use the canonical timestamp
// layout; NaN cells are left empty.
func writeFrameCSV(path string, f *Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(f.Header()); err != nil {
		return err
	}
	for _, r := range f.Rows {
		if err := w.Write(FormatRow(r, FloatPrecision)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return out.Close()
}

// FormatRow renders r as csv fields with prec decimals for numbers.
func FormatRow(r FrameRow, prec int) []string {
	rec := make([]string, 0, len(r.Times)+len(r.Cells))
	for _, ts := range r.Times {
		rec = append(rec, mhtime.Format(ts))
	}
	for _, c := range r.Cells {
		rec = append(rec, formatCell(c, prec))
	}
	return rec
}

func formatCell(c window.Cell, prec int) string {
	if c.IsText {
		return c.Text
	}
	if math.IsNaN(c.Num) {
		return ""
	}
	return strconv.FormatFloat(c.Num, 'f', prec, 64)
}
