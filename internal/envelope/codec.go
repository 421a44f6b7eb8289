package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMalformedInput = errors.New("envelope: malformed input")
	ErrMissingFields  = errors.New("envelope: missing required fields")
)

// MalformedInputError reports that raw input could not be decoded into a mapping.
type MalformedInputError struct {
	Format string
	Err    error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("envelope: malformed %s input: %v", e.Format, e.Err)
}

func (e *MalformedInputError) Unwrap() []error {
	return []error{ErrMalformedInput, e.Err}
}

// MissingFieldsError names every required key absent from a decoded envelope.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("envelope: missing required fields: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// Parse decodes a JSON object and checks the required keys.
func Parse(raw []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedInputError{Format: "json", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedInputError{Format: "json", Err: errors.New("trailing data after object")}
	}
	return fromDecoded("json", v)
}

// ParseBinary is Parse for MessagePack-encoded envelopes.
func ParseBinary(raw []byte) (Envelope, error) {
	var v any
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, &MalformedInputError{Format: "msgpack", Err: err}
	}
	return fromDecoded("msgpack", v)
}

func fromDecoded(format string, v any) (Envelope, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedInputError{Format: format, Err: fmt.Errorf("expected object, got %T", v)}
	}
	env := Envelope(m)
	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate reports every missing required key at once.
func Validate(env Envelope) error {
	var missing []string
	for _, field := range RequiredFields {
		if _, ok := env[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// Encode serializes env as UTF-8 JSON for text frames.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(map[string]any(env))
}

// EncodeBinary serializes env as MessagePack for binary frames.
func EncodeBinary(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]any(env)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
