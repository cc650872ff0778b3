package pyjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KeepsKeyOrder(t *testing.T) {
	v, err := Decode([]byte(`{"z":1,"a":{"y":true,"b":null},"m":[1,"x"]}`))
	require.NoError(t, err)

	obj, ok := v.(*Object)
	require.True(t, ok)

	members := obj.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "z", members[0].Key)
	assert.Equal(t, "a", members[1].Key)
	assert.Equal(t, "m", members[2].Key)
	assert.Equal(t, json.Number("1"), members[0].Value)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "not json"},
		{name: "empty", input: ""},
		{name: "truncated object", input: `{"a": 1`},
		{name: "trailing value", input: `{"a": 1} {"b": 2}`},
		{name: "missing comma", input: `{"a": 1 "b": 2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestDecode_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	v, err := Decode([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 3, "b": 2}`, string(out))
}

func TestMarshal_Layout(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "flat object", input: `{"scheme":"s","language":"en","payload":"p"}`, want: `{"scheme": "s", "language": "en", "payload": "p"}`},
		{name: "nested", input: `{"a":[1,2,{"b":false}],"c":null}`, want: `{"a": [1, 2, {"b": false}], "c": null}`},
		{name: "empty containers", input: `{"o":{},"l":[]}`, want: `{"o": {}, "l": []}`},
		{name: "numbers", input: `[1.50, -2, 3e2]`, want: `[1.5, -2, 300.0]`},
		{name: "escapes", input: `"q\"b\\n\n\t\u0001"`, want: `"q\"b\\n\n\t\u0001"`},
		{name: "non ascii", input: `"café"`, want: `"caf\u00e9"`},
		{name: "escaped non ascii", input: `"caf\u00e9"`, want: `"caf\u00e9"`},
		{name: "astral plane", input: `"😀"`, want: `"\ud83d\ude00"`},
		{name: "delete char", input: "\"\x7f\"", want: `"\u007f"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.input))
			require.NoError(t, err)

			out, err := Marshal(v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "0", want: "0"},
		{input: "-0", want: "0"},
		{input: "123456789012345678901234567890", want: "123456789012345678901234567890"},
		{input: "1.50", want: "1.5"},
		{input: "1E5", want: "100000.0"},
		{input: "-0.0", want: "-0.0"},
		{input: "0.0001", want: "0.0001"},
		{input: "0.00001", want: "1e-05"},
		{input: "1e15", want: "1000000000000000.0"},
		{input: "1e16", want: "1e+16"},
		{input: "1.25e17", want: "1.25e+17"},
		{input: "0.1", want: "0.1"},
		{input: "1e400", want: "Infinity"},
		{input: "-1e400", want: "-Infinity"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := formatNumber(json.Number(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := formatNumber(json.Number("12x"))
	assert.Error(t, err)
}

func TestMarshal_BuiltObject(t *testing.T) {
	obj := NewObject()
	obj.Set("body", `{"k": "v"}`)
	headers := NewObject()
	headers.Set("A", "1")
	obj.Set("headers", headers)
	obj.Set("count", 2)

	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"body": "{\"k\": \"v\"}", "headers": {"A": "1"}, "count": 2}`, string(out))

	var roundTrip map[string]any
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Equal(t, `{"k": "v"}`, roundTrip["body"])
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(struct{}{})
	assert.Error(t, err)
}

func TestObject_Map(t *testing.T) {
	v, err := Decode([]byte(`{"a":{"b":[{"c":"d"}]}}`))
	require.NoError(t, err)

	m := v.(*Object).Map()
	assert.Equal(t, map[string]any{"a": map[string]any{"b": []any{map[string]any{"c": "d"}}}}, m)
}
