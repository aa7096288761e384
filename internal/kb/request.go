package kb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

const (
	// DefaultCollection is used when collection_name is absent.
	DefaultCollection = "my_kb"

	// DefaultVectorSize is used when vector_size is absent or not a number.
	DefaultVectorSize uint64 = 1536
)

// Request holds the query parameters of a knowledge-base call.
type Request struct {
	Collection string
	VectorSize uint64

	// Reset drops and recreates the collection before ingesting.
	Reset bool

	// Ask treats the body as a question instead of batches to ingest.
	Ask bool
}

// MalformedInputError reports a request body that cannot be used.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: %s: %v", e.Reason, e.Err)
	}
	return "malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// ParseQuery reads collection_name, vector_size, reset and ask with the
// package defaults.
func ParseQuery(values url.Values) Request {
	return ParseQueryWithDefaults(values, DefaultCollection, DefaultVectorSize)
}

// ParseQueryWithDefaults is ParseQuery with caller-supplied defaults.
// reset and ask are presence flags; their values are ignored.
func ParseQueryWithDefaults(values url.Values, collection string, vectorSize uint64) Request {
	req := Request{
		Collection: collection,
		VectorSize: vectorSize,
		Reset:      values.Has("reset"),
		Ask:        values.Has("ask"),
	}
	if name := values.Get("collection_name"); name != "" {
		req.Collection = name
	}
	if n, err := strconv.ParseUint(values.Get("vector_size"), 10, 64); err == nil && n > 0 {
		req.VectorSize = n
	}
	return req
}

// ParseBatches decodes a JSON array of arrays of strings.
func ParseBatches(body []byte) ([][]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &MalformedInputError{Reason: "empty body"}
	}
	if trimmed[0] != '[' {
		return nil, &MalformedInputError{Reason: "expected a JSON array of arrays of strings"}
	}

	var batches [][]string
	if err := json.Unmarshal(trimmed, &batches); err != nil {
		return nil, &MalformedInputError{Reason: "expected a JSON array of arrays of strings", Err: err}
	}
	return batches, nil
}

func flatten(batches [][]string) []string {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	units := make([]string, 0, n)
	for _, b := range batches {
		units = append(units, b...)
	}
	return units
}
