package chunk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lucasjlepore/mhealth-windows/mhtime"
)

// Session is one recording session of a participant.
type Session struct {
	ParticipantID string
	Start         int64
	Stop          int64
}

// Sessions indexes session rows by participant.
type Sessions struct {
	byPID map[string][]Session
}

// LoadSessions reads a sessions csv with START_TIME, STOP_TIME and PID columns.
// The PID header is matched case-insensitively.
func LoadSessions(path string) (*Sessions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	defer f.Close()
	s, err := ReadSessions(f)
	if err != nil {
		return nil, fmt.Errorf("sessions %s: %w", path, err)
	}
	return s, nil
}

// ReadSessions parses a sessions csv payload.
func ReadSessions(r io.Reader) (*Sessions, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty sessions file")
		}
		return nil, err
	}
	startIdx, stopIdx, pidIdx := -1, -1, -1
	for i, name := range header {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case ColStartTime:
			startIdx = i
		case ColStopTime:
			stopIdx = i
		case "PID":
			pidIdx = i
		}
	}
	if startIdx < 0 || stopIdx < 0 || pidIdx < 0 {
		return nil, fmt.Errorf("sessions need %s, %s and PID columns", ColStartTime, ColStopTime)
	}

	out := &Sessions{byPID: map[string][]Session{}}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		start, err := mhtime.Parse(rec[startIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		stop, err := mhtime.Parse(rec[stopIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		pid := strings.TrimSpace(rec[pidIdx])
		out.byPID[pid] = append(out.byPID[pid], Session{ParticipantID: pid, Start: start, Stop: stop})
	}
	return out, nil
}

// Bounds returns the earliest start and latest stop of pid's sessions.
// A nil receiver or an unknown participant reports ok == false.
func (s *Sessions) Bounds(pid string) (start, stop int64, ok bool) {
	if s == nil {
		return 0, 0, false
	}
	list := s.byPID[pid]
	if len(list) == 0 {
		return 0, 0, false
	}
	start, stop = list[0].Start, list[0].Stop
	for _, ses := range list[1:] {
		start = min(start, ses.Start)
		stop = max(stop, ses.Stop)
	}
	return start, stop, true
}

// Participants returns the number of participants with at least one session.
func (s *Sessions) Participants() int {
	if s == nil {
		return 0
	}
	return len(s.byPID)
}
