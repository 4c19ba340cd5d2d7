package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	masterSyncedDir = "MasterSynced"
	derivedDir      = "Derived"
)

var (
	dateHourPattern = regexp.MustCompile(`([0-9]{4}-[0-9]{2}-[0-9]{2})-([0-9]{2})`)
	fileNamePattern = regexp.MustCompile(`^([A-Za-z0-9]+-){0,2}[A-Za-z0-9]+\.[A-Za-z0-9]+(-[A-Za-z0-9]+)*\.[0-9]{4}-[0-9]{2}-[0-9]{2}-[0-9]{2}-[0-9]{2}-[0-9]{2}-[0-9]{3}(-[MP][0-9]{4})?\.[a-z]+\.(csv|csv\.gz|fit)$`)
)

// Identity is what the mhealth naming convention says about one file.
type Identity struct {
	ParticipantID string `json:"pid"`
	InstrumentID  string `json:"id"`
	Date          string `json:"date"`
	Hour          int    `json:"hour"`
	Kind          Kind   `json:"kind"`
	SensorType    string `json:"sensor_type"`
	DataType      string `json:"data_type,omitempty"`
	Path          string `json:"path"`
}

// Key is the unique ordering key of a chunk.
type Key struct {
	ParticipantID string
	InstrumentID  string
	Date          string
	Hour          int
}

// Key returns the ordering key of id.
func (id Identity) Key() Key {
	return Key{ParticipantID: id.ParticipantID, InstrumentID: id.InstrumentID, Date: id.Date, Hour: id.Hour}
}

// SameGroup reports whether both identities belong to the same participant and instrument.
func (id Identity) SameGroup(other Identity) bool {
	return id.ParticipantID == other.ParticipantID && id.InstrumentID == other.InstrumentID
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%02d", k.ParticipantID, k.InstrumentID, k.Date, k.Hour)
}

func (k Key) less(o Key) bool {
	if k.ParticipantID != o.ParticipantID {
		return k.ParticipantID < o.ParticipantID
	}
	if k.InstrumentID != o.InstrumentID {
		return k.InstrumentID < o.InstrumentID
	}
	if k.Date != o.Date {
		return k.Date < o.Date
	}
	return k.Hour < o.Hour
}

// ValidFileName reports whether name follows the mhealth file-naming convention.
func ValidFileName(name string) bool {
	return fileNamePattern.MatchString(name)
}

// ParseIdentity extracts an identity from a file path.
func ParseIdentity(path string) (Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %v", ErrInvalidIdentity, path, err)
	}
	base := filepath.Base(abs)
	name := strings.TrimSuffix(base, ".gz")
	tokens := strings.Split(name, ".")
	if len(tokens) < 5 {
		return Identity{}, fmt.Errorf("%w: %s: expected 5 dot separated tokens", ErrInvalidIdentity, base)
	}

	m := dateHourPattern.FindStringSubmatch(tokens[2])
	if m == nil {
		return Identity{}, fmt.Errorf("%w: %s: no date/hour in %q", ErrInvalidIdentity, base, tokens[2])
	}
	hour, err := strconv.Atoi(m[2])
	if err != nil || hour > 23 {
		return Identity{}, fmt.Errorf("%w: %s: bad hour %q", ErrInvalidIdentity, base, m[2])
	}

	instrument := strings.ToUpper(strings.TrimSpace(strings.Split(tokens[1], "-")[0]))
	if instrument == "" {
		return Identity{}, fmt.Errorf("%w: %s: empty instrument id", ErrInvalidIdentity, base)
	}
	typeTokens := strings.Split(tokens[0], "-")
	id := Identity{
		ParticipantID: participantFromPath(abs),
		InstrumentID:  instrument,
		Date:          m[1],
		Hour:          hour,
		Kind:          Kind(strings.ToLower(strings.TrimSpace(tokens[len(tokens)-2]))),
		SensorType:    typeTokens[0],
		Path:          abs,
	}
	if len(typeTokens) > 1 {
		id.DataType = typeTokens[1]
	}
	return id, nil
}

// participantFromPath returns the directory above MasterSynced or Derived, or the
// parent directory of the file when neither is present.
func participantFromPath(abs string) string {
	parts := strings.Split(filepath.ToSlash(abs), "/")
	for i, p := range parts {
		if (p == masterSyncedDir || p == derivedDir) && i > 0 {
			return parts[i-1]
		}
	}
	return filepath.Base(filepath.Dir(abs))
}

// DerivedPath maps a source file to its output location under Derived/<setName>.
// Empty newKind or dataType keep the source values.
func (id Identity) DerivedPath(setName string, newKind Kind, dataType string) string {
	path := id.Path
	sep := string(os.PathSeparator)
	switch {
	case strings.Contains(path, sep+masterSyncedDir+sep):
		path = strings.Replace(path, sep+masterSyncedDir+sep, sep+derivedDir+sep+setName+sep, 1)
	case strings.Contains(path, sep+derivedDir+sep):
		head, tail, _ := strings.Cut(path, sep+derivedDir+sep)
		_, rest, found := strings.Cut(tail, sep)
		if !found {
			rest = tail
		}
		path = head + sep + derivedDir + sep + setName + sep + rest
	default:
		path = filepath.Join(filepath.Dir(path), derivedDir, setName, filepath.Base(path))
	}

	dir, base := filepath.Split(path)
	base = strings.TrimSuffix(base, ".gz")
	tokens := strings.Split(base, ".")
	if newKind != "" && len(tokens) >= 2 {
		tokens[len(tokens)-2] = string(newKind)
	}
	if dataType != "" && id.DataType != "" {
		tokens[0] = strings.Replace(tokens[0], id.DataType, dataType, 1)
	}
	// outputs are always plain csv files
	tokens[len(tokens)-1] = "csv"
	return filepath.Join(dir, strings.Join(tokens, "."))
}

// Discover walks root and returns the identities of every convention file accepted by match.
// Files that do not follow the convention are skipped.
func Discover(root string, match func(Identity) bool) ([]Identity, error) {
	var out []Identity
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !ValidFileName(d.Name()) {
			return nil
		}
		id, err := ParseIdentity(path)
		if err != nil {
			return nil
		}
		if match == nil || match(id) {
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	return out, nil
}
