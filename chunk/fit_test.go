package chunk

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"
)

var fitStart = time.Date(2020, 1, 1, 10, 15, 0, 0, time.UTC)

func TestReadFITRecords(t *testing.T) {
	table, rejected, err := ReadFIT(bytes.NewReader(buildTestFIT(t)))
	require.NoError(t, err)
	assert.Empty(t, rejected)

	assert.Equal(t, FITColumns, table.Schema.ValueColumns)
	require.Equal(t, 3, table.Len())
	for i, row := range table.Rows {
		assert.Equal(t, fitStart.Add(time.Duration(i)*time.Second).UnixMilli(), row.Time)
	}

	hr := table.Column("HEART_RATE")
	assert.Equal(t, []float64{130, 131, 132}, hr)
	assert.Equal(t, 245.0, table.Column("POWER")[0])
	assert.Equal(t, 90.0, table.Column("CADENCE")[0])
	assert.True(t, math.IsNaN(table.Column("POWER")[2]))
	assert.True(t, math.IsNaN(table.Column("ALTITUDE")[0]))
}

func TestLoadFITChunk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "P2", "MasterSynced", "2020", "01", "01", "10")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "Garmin.EDGE530.2020-01-01-10-00-00-000.sensor.fit")
	require.NoError(t, os.WriteFile(path, buildTestFIT(t), 0o644))

	id, err := ParseIdentity(path)
	require.NoError(t, err)
	res, err := Load(id, LoadOptions{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, "EDGE530", res.Chunk.ID.InstrumentID)
	assert.Equal(t, 3, res.Chunk.Table.Len())
}

func TestReadFITRejectsGarbage(t *testing.T) {
	_, _, err := ReadFIT(bytes.NewReader([]byte("not a fit file")))
	require.Error(t, err)
}

func buildTestFIT(t *testing.T) []byte {
	t.Helper()

	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	require.NoError(t, err)

	activity, err := file.Activity()
	require.NoError(t, err)

	start := fit.NewEventMsg()
	start.Timestamp = fitStart
	start.Event = fit.EventTimer
	start.EventType = fit.EventTypeStart
	activity.Events = append(activity.Events, start)

	for i := 0; i < 3; i++ {
		record := fit.NewRecordMsg()
		record.Timestamp = fitStart.Add(time.Duration(i) * time.Second)
		record.HeartRate = uint8(130 + i)
		record.Cadence = 90
		if i < 2 {
			record.Power = 245
		}
		activity.Records = append(activity.Records, record)
	}

	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))
	return buf.Bytes()
}
