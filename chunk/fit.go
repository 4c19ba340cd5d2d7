package chunk

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tormoder/fit"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

// FITColumns are the value columns produced for FIT activity records.
var FITColumns = []string{"HEART_RATE", "CADENCE", "POWER", "SPEED", "DISTANCE", "ALTITUDE"}

func loadFIT(path string) (Table, []RejectedRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, nil, err
	}
	return ReadFIT(bytes.NewReader(data))
}

// ReadFIT decodes a FIT activity and returns its record messages as a sensor table.
// Invalid sentinel values become NaN; records without a valid timestamp are rejected.
func ReadFIT(r io.Reader) (Table, []RejectedRow, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return Table{}, nil, fmt.Errorf("decode FIT file: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return Table{}, nil, fmt.Errorf("activity FIT expected: %w", err)
	}

	table := Table{
		Schema: Schema{TimeColumn: ColHeaderTimestamp, ValueColumns: append([]string(nil), FITColumns...)},
		Rows:   make([]Row, 0, len(activity.Records)),
	}
	var rejected []RejectedRow
	for i, rec := range activity.Records {
		if rec == nil {
			continue
		}
		ts := validTimeOrZero(rec.Timestamp)
		if ts.IsZero() {
			rejected = append(rejected, RejectedRow{Line: i + 1, Reason: "record without valid timestamp"})
			continue
		}
		ms := mhtime.FromTime(ts)
		table.Rows = append(table.Rows, Row{
			Time: ms,
			Stop: ms,
			Values: []float64{
				fitUint8(rec.HeartRate),
				fitCadence(rec),
				fitUint16(rec.Power),
				fitSpeed(rec),
				finiteOrNaN(rec.GetDistanceScaled()),
				fitAltitude(rec),
			},
		})
	}
	sort.SliceStable(table.Rows, func(i, j int) bool {
		return table.Rows[i].Time < table.Rows[j].Time
	})
	return table, rejected, nil
}

func validTimeOrZero(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func fitUint8(v uint8) float64 {
	if v == math.MaxUint8 {
		return math.NaN()
	}
	return float64(v)
}

func fitUint16(v uint16) float64 {
	if v == math.MaxUint16 {
		return math.NaN()
	}
	return float64(v)
}

func fitCadence(rec *fit.RecordMsg) float64 {
	if cad256 := rec.GetCadence256Scaled(); isFinite(cad256) && cad256 > 0 {
		return cad256
	}
	return fitUint8(rec.Cadence)
}

func fitSpeed(rec *fit.RecordMsg) float64 {
	if speed := rec.GetEnhancedSpeedScaled(); isFinite(speed) && speed >= 0 {
		return speed
	}
	return finiteOrNaN(rec.GetSpeedScaled())
}

func fitAltitude(rec *fit.RecordMsg) float64 {
	return finiteOrNaN(rec.GetAltitudeScaled())
}

func finiteOrNaN(v float64) float64 {
	if !isFinite(v) {
		return math.NaN()
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
