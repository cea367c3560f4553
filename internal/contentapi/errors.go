package contentapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotDirectory is returned by List when the path holds a file.
var ErrNotDirectory = errors.New("not a directory")

// TransportError is any failed remote call: network, authentication,
// revision conflict or server error.
//
// A 404 is also reported as a TransportError by the low level calls but Get,
// List and Delete convert it to absence before it reaches a caller.
type TransportError struct {
	Op         string // get, put or delete
	Path       string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: GitHub API error %d: %s", e.Op, e.Path, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether the store rejected a write because the revision
// token was missing or stale.
func (e *TransportError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusUnprocessableEntity
}

// IsNotFound reports whether err is a 404 from the contents API.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

// recoverNotFound turns a not-found failure into the absent value and lets
// every other outcome through unchanged.
func recoverNotFound[T any](v T, err error, absent T) (T, error) {
	if IsNotFound(err) {
		return absent, nil
	}
	return v, err
}
