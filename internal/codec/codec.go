// Package codec converts between the transport encoding of the contents API
// (base64) and raw bytes, and parses raw bytes as JSON.
//
// Each function is pure and reports failure through its own error type so
// callers can tell a malformed transport body from malformed JSON.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode"
)

// DecodingError is returned when a transport-encoded body is not valid base64.
type DecodingError struct {
	Cause error
}

func (e *DecodingError) Error() string {
	return "failed to decode content from base64: " + e.Cause.Error()
}

func (e *DecodingError) Unwrap() error {
	return e.Cause
}

// ParsingError is returned when a decoded body is not valid JSON for the target type.
type ParsingError struct {
	Cause error
}

func (e *ParsingError) Error() string {
	return "failed to parse JSON: " + e.Cause.Error()
}

func (e *ParsingError) Unwrap() error {
	return e.Cause
}

// EncodeBase64 returns the standard padded base64 encoding of b, without line breaks.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes s, ignoring any whitespace.
//
// The contents API wraps base64 bodies at 60 columns.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(StripWhitespace(s))
	if err != nil {
		return nil, &DecodingError{Cause: err}
	}
	return b, nil
}

// ParseJSON unmarshals raw into a new T.
func ParseJSON[T any](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, &ParsingError{Cause: err}
	}
	return v, nil
}

// MarshalJSON encodes v like json.Marshal but leaves '<', '>' and '&' as is,
// so stored HTML stays readable and byte for byte what the caller gave.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// StripWhitespace removes every whitespace rune from s.
//
// This is the normalization applied before comparing a stored base64 body
// with a new one.
func StripWhitespace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
