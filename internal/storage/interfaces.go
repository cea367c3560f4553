package storage

import (
	"context"

	"github.com/maruel/ghdocs/internal/optional"
)

// PersistenceLayer is the capability a host binds to read, write, list and
// delete documents of every topology.
//
// Absence is reported as an empty optional.Option or an empty slice, never
// as an error. Every error is a *PersistenceError.
type PersistenceLayer interface {
	PrepareSingletonRepo(ctx context.Context, schema ContentSchema) error
	PrepareCollectionRepo(ctx context.Context, schema ContentSchema) error
	PrepareTreeRepo(ctx context.Context, schema ContentSchema) error

	GetContentMap(ctx context.Context) (optional.Option[ContentMap], error)
	UpdateContentMap(ctx context.Context, m ContentMap) error

	ListSingleton(ctx context.Context, docID string) ([]DocumentInfo, error)
	ListAllFromCollection(ctx context.Context, name string) ([]DocumentInfo, error)
	ListAllFromTree(ctx context.Context, name string) ([]DocumentInfo, error)

	GetSingleton(ctx context.Context, docID, variant string) (optional.Option[Document], error)
	GetFromCollection(ctx context.Context, name, docID, variant string) (optional.Option[Document], error)
	GetFromTree(ctx context.Context, name string, treePath []string, docID, variant string) (optional.Option[Document], error)

	PutSingleton(ctx context.Context, docID, variant string, doc Document) (Document, error)
	PutToCollection(ctx context.Context, name, docID, variant string, doc Document) (Document, error)
	PutToTree(ctx context.Context, name string, treePath []string, docID, variant string, doc Document) (Document, error)

	DeleteSingleton(ctx context.Context, docID, variant string) (optional.Option[Document], error)
	DeleteFromCollection(ctx context.Context, name, docID, variant string) (optional.Option[Document], error)
	DeleteFromTree(ctx context.Context, name string, treePath []string, docID, variant string) (optional.Option[Document], error)
}

var _ PersistenceLayer = (*Store)(nil)
