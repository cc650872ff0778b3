package headerset

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Delimiter separates a header name from its value.
const Delimiter = ": "

// ErrMalformedHeader is returned for a header line without Delimiter.
var ErrMalformedHeader = errors.New("malformed header")

// Record is one (name, value) pair.
type Record struct {
	Name  string
	Value string
}

// ParseRecord splits line on the first Delimiter.
func ParseRecord(line string) (Record, error) {
	idx := strings.Index(line, Delimiter)
	if idx < 0 {
		return Record{}, errors.Wrapf(ErrMalformedHeader, "no %q in %q", Delimiter, line)
	}
	return Record{Name: line[:idx], Value: line[idx+len(Delimiter):]}, nil
}

// ParseBlock parses every non-empty line of a header block. Valid records are
// returned even when some lines are malformed; the error then joins one
// ErrMalformedHeader per bad line.
func ParseBlock(block string) ([]Record, error) {
	block = strings.TrimRight(block, "\x00\r\n")

	var (
		records []Record
		errs    []error
	)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 && len(errs) == 0 {
		errs = append(errs, errors.Wrap(ErrMalformedHeader, "empty header block"))
	}

	return records, errors.Join(errs...)
}

// Set is an ordered, first-wins header map. It is not safe for concurrent use;
// the aggregator is its only writer.
type Set struct {
	names  []string
	values map[string]string
}

// New creates an empty Set.
func New() *Set {
	return &Set{values: make(map[string]string)}
}

// Add inserts r unless its name is already present. Reports whether r was stored.
func (s *Set) Add(r Record) bool {
	if _, exists := s.values[r.Name]; exists {
		return false
	}
	s.names = append(s.names, r.Name)
	s.values[r.Name] = r.Value
	return true
}

// Get returns the stored value for name.
func (s *Set) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of distinct names.
func (s *Set) Len() int {
	return len(s.names)
}

// Snapshot returns an immutable copy of the current contents.
func (s *Set) Snapshot() Snapshot {
	records := make([]Record, len(s.names))
	for i, name := range s.names {
		records[i] = Record{Name: name, Value: s.values[name]}
	}
	return Snapshot{records: records}
}

// Snapshot is a frozen, ordered view of a Set.
type Snapshot struct {
	records []Record
}

// Records returns the headers in insertion order.
func (s Snapshot) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Map returns the headers keyed by name.
func (s Snapshot) Map() map[string]string {
	m := make(map[string]string, len(s.records))
	for _, r := range s.records {
		m[r.Name] = r.Value
	}
	return m
}

// Len returns the number of headers.
func (s Snapshot) Len() int {
	return len(s.records)
}
