package window

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ClassMap maps a joined annotation label to one class per output column.
type ClassMap struct {
	Columns []string
	rows    map[string][]string
}

// LoadClassMap reads a class map csv from path.
func LoadClassMap(path string) (*ClassMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open class map: %w", err)
	}
	defer f.Close()
	m, err := ReadClassMap(f)
	if err != nil {
		return nil, fmt.Errorf("class map %s: %w", path, err)
	}
	return m, nil
}

// ReadClassMap parses a class map. The first column holds lower case labels joined
// with "-"; every other column is an output class. Duplicate labels are rejected.
func ReadClassMap(r io.Reader) (*ClassMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty class map")
		}
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("class map needs a label column and at least one class column")
	}
	m := &ClassMap{rows: map[string][]string{}}
	for _, h := range header[1:] {
		m.Columns = append(m.Columns, strings.TrimSpace(h))
	}
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
		key := strings.ToLower(strings.TrimSpace(rec[0]))
		if _, dup := m.rows[key]; dup {
			return nil, fmt.Errorf("line %d: more than one mapping for %q", line, key)
		}
		classes := make([]string, len(rec)-1)
		for i, v := range rec[1:] {
			classes[i] = strings.TrimSpace(v)
		}
		m.rows[key] = classes
	}
	return m, nil
}

// Lookup returns the classes mapped to label.
func (m *ClassMap) Lookup(label string) ([]string, bool) {
	classes, ok := m.rows[label]
	return classes, ok
}
