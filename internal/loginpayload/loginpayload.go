// Package loginpayload recognizes JSON objects written through the data call.
package loginpayload

import (
	"strings"

	"github.com/mrzor/logincap/internal/pyjson"
)

// Payload is a data write that decoded to a JSON object.
type Payload struct {
	object *pyjson.Object
}

// TryParse decodes raw as a JSON object. Most data writes are not JSON at all,
// so failure is reported as ok=false rather than as an error.
func TryParse(raw string) (Payload, bool) {
	raw = strings.TrimRight(raw, "\x00")
	if raw == "" {
		return Payload{}, false
	}

	v, err := pyjson.Decode([]byte(raw))
	if err != nil {
		return Payload{}, false
	}

	obj, ok := v.(*pyjson.Object)
	if !ok {
		return Payload{}, false
	}
	return Payload{object: obj}, true
}

// Object returns the decoded object.
func (p Payload) Object() *pyjson.Object {
	return p.object
}

// Encode re-serializes the payload with its original key order.
func (p Payload) Encode() (string, error) {
	out, err := pyjson.Marshal(p.object)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
