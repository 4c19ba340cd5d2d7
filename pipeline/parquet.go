package pipeline

import (
	"fmt"
	"os"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// writeFrameParquet writes f as a SNAPPY parquet file. Time columns are INT64
// TIMESTAMP_MILLIS; a value column is UTF8 when its first data row holds text and
// DOUBLE otherwise.
func writeFrameParquet(path string, f *Frame) error {
	data, err := marshalFrameParquet(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func marshalFrameParquet(f *Frame) ([]byte, error) {
	text := textColumns(f)
	md := make([]string, 0, len(f.TimeColumns)+len(f.Columns))
	for _, name := range f.TimeColumns {
		md = append(md, fmt.Sprintf("name=%s, type=INT64, convertedtype=TIMESTAMP_MILLIS", name))
	}
	for j, name := range f.Columns {
		if text[j] {
			md = append(md, fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY", name))
		} else {
			md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", name))
		}
	}

	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewCSVWriter(md, fw, 4)
	if err != nil {
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range f.Rows {
		rec := make([]interface{}, 0, len(md))
		for _, ts := range r.Times {
			rec = append(rec, ts)
		}
		for j, c := range r.Cells {
			if text[j] {
				rec = append(rec, c.Text)
			} else {
				rec = append(rec, c.Num)
			}
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

func textColumns(f *Frame) []bool {
	text := make([]bool, len(f.Columns))
	if len(f.Rows) == 0 {
		return text
	}
	for j, c := range f.Rows[0].Cells {
		text[j] = c.IsText
	}
	return text
}
