// Package window plans sliding analysis windows over a session and evaluates typed
// operations on the rows each window selects.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

var (
	// ErrInvalidWindowConfig reports a non-positive duration or step, or an unsupported span.
	ErrInvalidWindowConfig = errors.New("invalid window config")
	// ErrShapeMismatch reports an operation whose output width changed between windows.
	ErrShapeMismatch = errors.New("operation shape mismatch")
	// ErrInvalidColumns reports column names that do not match the feature width.
	ErrInvalidColumns = errors.New("invalid feature column names")
)

// MaxDuration is the longest window supported against hourly chunks. A window start
// owned by one hour may only read data from that hour and its next neighbor.
const MaxDuration = 2 * time.Hour

// Window is the half open interval [Start, Stop) in epoch milliseconds.
type Window struct {
	Start int64 `json:"start"`
	Stop  int64 `json:"stop"`
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", mhtime.Format(w.Start), mhtime.Format(w.Stop))
}

// Plan returns the windows of length duration starting at start, start+step, ...
// while the start is before stop. Windows ending after stop are dropped, never truncated.
func Plan(start, stop int64, duration, step time.Duration) ([]Window, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration %s must be positive", ErrInvalidWindowConfig, duration)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %s must be positive", ErrInvalidWindowConfig, step)
	}
	if stop < start {
		return nil, fmt.Errorf("%w: session stop %s before start %s", ErrInvalidWindowConfig, mhtime.Format(stop), mhtime.Format(start))
	}
	d, s := duration.Milliseconds(), step.Milliseconds()
	if d == 0 || s == 0 {
		return nil, fmt.Errorf("%w: duration and step need millisecond resolution", ErrInvalidWindowConfig)
	}

	var out []Window
	if stop-start >= d {
		out = make([]Window, 0, (stop-start-d)/s+1)
	}
	for ws := start; ws < stop; ws += s {
		we := ws + d
		if we > stop {
			// later candidates end even further out
			break
		}
		out = append(out, Window{Start: ws, Stop: we})
	}
	return out, nil
}

// ValidateForChunks rejects window durations the hourly chunk merge cannot serve.
func ValidateForChunks(duration, step time.Duration) error {
	if duration <= 0 || step <= 0 {
		return fmt.Errorf("%w: duration %s and step %s must be positive", ErrInvalidWindowConfig, duration, step)
	}
	if duration > MaxDuration {
		return fmt.Errorf("%w: duration %s exceeds %s", ErrInvalidWindowConfig, duration, MaxDuration)
	}
	return nil
}

// Owned keeps the windows whose start lies in [ownStart, ownStop).
func Owned(windows []Window, ownStart, ownStop int64) []Window {
	var out []Window
	for _, w := range windows {
		if w.Start >= ownStart && w.Start < ownStop {
			out = append(out, w)
		}
	}
	return out
}

// Bounds is the start and stop of one stream.
type Bounds struct {
	Start int64
	Stop  int64
}

// SyncBounds returns the union of all bounds, or their intersection when intersect is
// set. The start is floored to the minute and the stop is extended to the end of its
// minute.
func SyncBounds(intersect bool, bounds ...Bounds) (Bounds, error) {
	if len(bounds) == 0 {
		return Bounds{}, fmt.Errorf("%w: no bounds to synchronize", ErrInvalidWindowConfig)
	}
	out := bounds[0]
	for _, b := range bounds[1:] {
		if intersect {
			out.Start = max(out.Start, b.Start)
			out.Stop = min(out.Stop, b.Stop)
		} else {
			out.Start = min(out.Start, b.Start)
			out.Stop = max(out.Stop, b.Stop)
		}
	}
	if out.Stop < out.Start {
		return Bounds{}, fmt.Errorf("%w: bounds do not overlap", ErrInvalidWindowConfig)
	}
	return Bounds{Start: mhtime.FloorMinute(out.Start), Stop: mhtime.FloorMinute(out.Stop) + mhtime.Minute}, nil
}
