package headerset

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Record
		wantErr bool
	}{
		{name: "simple", line: "X-Foo: bar", want: Record{Name: "X-Foo", Value: "bar"}},
		{name: "value with delimiter", line: "Authorization: Token a: b", want: Record{Name: "Authorization", Value: "Token a: b"}},
		{name: "empty value", line: "X-Empty: ", want: Record{Name: "X-Empty", Value: ""}},
		{name: "colon without space", line: "X-Foo:bar", wantErr: true},
		{name: "no delimiter", line: "garbage", wantErr: true},
		{name: "empty", line: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecord(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedHeader))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBlock_MultiLine(t *testing.T) {
	records, err := ParseBlock("X-A: 1\r\nX-B: 2\r\n\x00\x00")

	require.NoError(t, err)
	assert.Equal(t, []Record{{Name: "X-A", Value: "1"}, {Name: "X-B", Value: "2"}}, records)
}

func TestParseBlock_PartiallyMalformed(t *testing.T) {
	records, err := ParseBlock("X-A: 1\r\nbroken\r\nX-B: 2")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedHeader))
	assert.Len(t, records, 2, "valid lines survive a malformed neighbour")
}

func TestParseBlock_Empty(t *testing.T) {
	records, err := ParseBlock("\r\n")

	assert.Empty(t, records)
	assert.True(t, errors.Is(err, ErrMalformedHeader))
}

func TestSet_FirstWins(t *testing.T) {
	s := New()

	assert.True(t, s.Add(Record{Name: "X-Foo", Value: "bar"}))
	assert.False(t, s.Add(Record{Name: "X-Foo", Value: "other"}))

	v, ok := s.Get("X-Foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
	assert.Equal(t, 1, s.Len())
}

func TestSet_BuiltFromLines(t *testing.T) {
	s := New()
	for _, line := range []string{"X-Foo: bar", "X-Baz: qux", "X-Foo: other"} {
		rec, err := ParseRecord(line)
		require.NoError(t, err)
		s.Add(rec)
	}

	assert.Equal(t, map[string]string{"X-Foo": "bar", "X-Baz": "qux"}, s.Snapshot().Map())
}

func TestSet_NamesAreCaseSensitive(t *testing.T) {
	s := New()
	s.Add(Record{Name: "x-foo", Value: "lower"})
	s.Add(Record{Name: "X-Foo", Value: "upper"})

	assert.Equal(t, 2, s.Len())
}

func TestSnapshot_IsFrozen(t *testing.T) {
	s := New()
	s.Add(Record{Name: "A", Value: "1"})

	snap := s.Snapshot()
	s.Add(Record{Name: "B", Value: "2"})

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, []Record{{Name: "A", Value: "1"}}, snap.Records())

	recs := snap.Records()
	recs[0].Value = "mutated"
	assert.Equal(t, "1", snap.Map()["A"])
}

func TestSnapshot_KeepsInsertionOrder(t *testing.T) {
	s := New()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		s.Add(Record{Name: name, Value: name})
	}

	recs := s.Snapshot().Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "Zeta", recs[0].Name)
	assert.Equal(t, "Alpha", recs[1].Name)
	assert.Equal(t, "Mid", recs[2].Name)
}
