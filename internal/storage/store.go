// Package storage maps singleton, collection and tree documents onto files
// in a branch of a GitHub repository.
//
// Storage model, relative to the configured data directory:
//   - Singletons: documents/singletons/<docId>/<variant>.json
//   - Collections: documents/collections/<name>/<docId>/<variant>.json
//   - Trees: documents/trees/<name>/<segment>/.../<docId>/<variant>.json
//   - Content map: content-map.json
//
// Nothing is cached: every call reads the repository again.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/paths"
)

// ModuleName is the first half of the provenance stamp.
const ModuleName = "github"

const (
	msgFetch      = "Failed to fetch content from GitHub repo"
	msgSave       = "Failed to save document into GitHub repo"
	msgDelete     = "Failed to delete content from GitHub repo"
	msgFetchMap   = "Failed to fetch content map from GitHub repo"
	msgSaveMap    = "Failed to save content map into GitHub repo"
	msgEncode     = "Failed to encode document"
	msgInvalidRef = "Invalid document reference"
)

// PersistenceError is the only error returned by Store. Cause is one of
// *contentapi.TransportError, *codec.DecodingError, *codec.ParsingError or a
// validation error.
type PersistenceError struct {
	Message string
	Cause   error
}

func (e *PersistenceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func wrap(msg string, err error) error {
	return &PersistenceError{Message: msg, Cause: err}
}

// Store implements PersistenceLayer on top of a contentapi.Client.
//
// It only holds immutable configuration and is safe for concurrent use.
type Store struct {
	client     *contentapi.Client
	paths      paths.WorkPaths
	provenance string
}

// Option configures a Store.
type Option func(*Store)

// WithVersion sets the version written in the provenance stamp. It defaults
// to "dev".
func WithVersion(v string) Option {
	return func(s *Store) {
		if v != "" {
			s.provenance = ModuleName + "@" + v
		}
	}
}

// New creates a Store reading and writing the data branch of wp.
func New(client *contentapi.Client, wp paths.WorkPaths, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("content client is required")
	}
	s := &Store{
		client:     client,
		paths:      wp,
		provenance: ModuleName + "@dev",
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Provenance returns the stamp written into every stored document.
func (s *Store) Provenance() string {
	return s.provenance
}

// PrepareSingletonRepo does nothing: the repository needs no provisioning.
func (s *Store) PrepareSingletonRepo(context.Context, ContentSchema) error {
	return nil
}

// PrepareCollectionRepo does nothing: the repository needs no provisioning.
func (s *Store) PrepareCollectionRepo(context.Context, ContentSchema) error {
	return nil
}

// PrepareTreeRepo does nothing: the repository needs no provisioning.
func (s *Store) PrepareTreeRepo(context.Context, ContentSchema) error {
	return nil
}

// checkRef validates every name of ref so that path resolution stays
// injective.
func checkRef(ref DocumentReference) error {
	if err := paths.ValidName(ref.Store); err != nil {
		return wrap(msgInvalidRef, fmt.Errorf("store: %w", err))
	}
	for _, seg := range ref.Path {
		if err := paths.ValidName(seg); err != nil {
			return wrap(msgInvalidRef, fmt.Errorf("path: %w", err))
		}
	}
	if ref.DocID != "" {
		if err := paths.ValidName(ref.DocID); err != nil {
			return wrap(msgInvalidRef, fmt.Errorf("document ID: %w", err))
		}
	}
	if err := paths.ValidVariant(ref.Variant); err != nil {
		return wrap(msgInvalidRef, fmt.Errorf("variant: %w", err))
	}
	return nil
}

func checkName(kind, name string) error {
	if err := paths.ValidName(name); err != nil {
		return wrap(msgInvalidRef, fmt.Errorf("%s: %w", kind, err))
	}
	return nil
}
