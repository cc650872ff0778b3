package qualify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/logincap/internal/pyjson"
)

func object(t *testing.T, raw string) *pyjson.Object {
	t.Helper()
	v, err := pyjson.Decode([]byte(raw))
	require.NoError(t, err)
	obj, ok := v.(*pyjson.Object)
	require.True(t, ok)
	return obj
}

func TestDefault(t *testing.T) {
	pred := MustDefault()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "all fields", body: `{"scheme":"s","language":"en","payload":"p"}`, want: true},
		{name: "extra fields", body: `{"scheme":"s","language":"en","payload":"p","x":1}`, want: true},
		{name: "null values still present", body: `{"scheme":null,"language":null,"payload":null}`, want: true},
		{name: "missing language", body: `{"scheme":"s","payload":"p"}`, want: false},
		{name: "missing all", body: `{"hello":"world"}`, want: false},
		{name: "empty", body: `{}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pred.Qualifies(object(t, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefault_NilBody(t *testing.T) {
	got, err := MustDefault().Qualifies(nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCompile_Custom(t *testing.T) {
	pred, err := Compile(`"payload" in body && body.language == "en"`)
	require.NoError(t, err)

	got, err := pred.Qualifies(object(t, `{"payload":"p","language":"en"}`))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = pred.Qualifies(object(t, `{"payload":"p","language":"de"}`))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(`body +`)
	assert.Error(t, err)

	_, err = Compile(`"not a bool"`)
	assert.Error(t, err, "non-boolean expressions are rejected at compile time")
}

func TestExpression_String(t *testing.T) {
	assert.Equal(t, DefaultExpression, MustDefault().String())
}
