package output

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/mrzor/logincap/internal/aggregator"
	"github.com/mrzor/logincap/internal/pyjson"
)

// ErrNoResult is returned when asked to format a missing capture.
var ErrNoResult = errors.New("no capture result")

// Record builds the ordered output object for result.
func Record(result *aggregator.CaptureResult) (*pyjson.Object, error) {
	if result == nil {
		return nil, ErrNoResult
	}

	headers := pyjson.NewObject()
	for _, r := range result.Headers.Records() {
		headers.Set(r.Name, r.Value)
	}

	record := pyjson.NewObject()
	record.Set("body", result.Body)
	record.Set("headers", headers)
	return record, nil
}

// Formatter writes capture records, one per line.
type Formatter struct {
	w io.Writer
}

// NewFormatter creates a Formatter writing to w.
func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

// Write encodes result and writes it followed by a newline.
func (f *Formatter) Write(result *aggregator.CaptureResult) error {
	record, err := Record(result)
	if err != nil {
		return err
	}

	data, err := pyjson.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encoding capture record")
	}
	data = append(data, '\n')

	if _, err := f.w.Write(data); err != nil {
		return errors.Wrap(err, "writing capture record")
	}
	return nil
}
