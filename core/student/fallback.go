package student

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/daniel-alt-pages/ietac-sub000/assets"
)

const defaultRosterPath = "roster/default.yaml"

// Roster is the static fallback dataset bundled with the binaries.
// A stored record always shadows the roster entry with the same id.
type Roster struct {
	Students []Student `yaml:"students"`

	byID map[string]int
}

// LoadRoster parses a YAML roster.
func LoadRoster(r io.Reader) (*Roster, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading roster")
	}
	var roster Roster
	if err = yaml.UnmarshalStrict(data, &roster); err != nil {
		return nil, errors.Wrap(err, "decoding roster")
	}
	roster.index()
	return &roster, nil
}

// DefaultRoster loads the embedded roster.
func DefaultRoster() (*Roster, error) {
	f, err := assets.FS.Open(defaultRosterPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening embedded roster")
	}
	defer func() { _ = f.Close() }()
	return LoadRoster(f)
}

// NewRoster builds a Roster from in-memory records.
func NewRoster(students ...Student) *Roster {
	r := &Roster{Students: students}
	r.index()
	return r
}

func (r *Roster) index() {
	sort.SliceStable(r.Students, func(i, j int) bool { return r.Students[i].StudentID < r.Students[j].StudentID })
	r.byID = make(map[string]int, len(r.Students))
	for i, s := range r.Students {
		if s.VerificationStatus == "" {
			r.Students[i].VerificationStatus = StatusPending
		}
		r.byID[s.StudentID] = i
	}
}

// Find returns the roster entry for id.
func (r *Roster) Find(id string) (Student, bool) {
	if r == nil {
		return Student{}, false
	}
	i, ok := r.byID[id]
	if !ok {
		return Student{}, false
	}
	return r.Students[i], true
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Students)
}
