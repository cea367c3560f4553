package storage

import (
	"context"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/optional"
)

// GetSingleton returns one variant of a singleton.
func (s *Store) GetSingleton(ctx context.Context, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: docID, Variant: variant}
	if err := checkRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.getDocument(ctx, s.paths.SingletonPath(docID, variant))
}

// GetFromCollection returns one variant of a collection element.
func (s *Store) GetFromCollection(ctx context.Context, name, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: name, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.getDocument(ctx, s.paths.CollectionElementPath(name, docID, variant))
}

// GetFromTree returns one variant of a tree leaf.
func (s *Store) GetFromTree(ctx context.Context, name string, treePath []string, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: name, Path: treePath, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.getDocument(ctx, s.paths.TreeLeafPath(name, treePath, docID, variant))
}

// PutSingleton stores one variant of a singleton and returns the stamped
// document. doc itself is not modified.
func (s *Store) PutSingleton(ctx context.Context, docID, variant string, doc Document) (Document, error) {
	ref := DocumentReference{Store: docID, Variant: variant}
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	return s.putDocument(ctx, ref, s.paths.SingletonPath(docID, variant), doc)
}

// PutToCollection stores one variant of a collection element.
func (s *Store) PutToCollection(ctx context.Context, name, docID, variant string, doc Document) (Document, error) {
	ref := DocumentReference{Store: name, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return nil, err
	}
	return s.putDocument(ctx, ref, s.paths.CollectionElementPath(name, docID, variant), doc)
}

// PutToTree stores one variant of a tree leaf.
func (s *Store) PutToTree(ctx context.Context, name string, treePath []string, docID, variant string, doc Document) (Document, error) {
	ref := DocumentReference{Store: name, Path: treePath, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return nil, err
	}
	return s.putDocument(ctx, ref, s.paths.TreeLeafPath(name, treePath, docID, variant), doc)
}

// DeleteSingleton removes one variant of a singleton and returns its last
// content, or None if it did not exist.
func (s *Store) DeleteSingleton(ctx context.Context, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: docID, Variant: variant}
	if err := checkRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.deleteDocument(ctx, ref, s.paths.SingletonPath(docID, variant))
}

// DeleteFromCollection removes one variant of a collection element.
func (s *Store) DeleteFromCollection(ctx context.Context, name, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: name, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.deleteDocument(ctx, ref, s.paths.CollectionElementPath(name, docID, variant))
}

// DeleteFromTree removes one variant of a tree leaf.
func (s *Store) DeleteFromTree(ctx context.Context, name string, treePath []string, docID, variant string) (optional.Option[Document], error) {
	ref := DocumentReference{Store: name, Path: treePath, DocID: docID, Variant: variant}
	if err := checkElementRef(ref); err != nil {
		return optional.None[Document](), err
	}
	return s.deleteDocument(ctx, ref, s.paths.TreeLeafPath(name, treePath, docID, variant))
}

func checkElementRef(ref DocumentReference) error {
	if err := checkName("document ID", ref.DocID); err != nil {
		return err
	}
	return checkRef(ref)
}

func (s *Store) getDocument(ctx context.Context, p string) (optional.Option[Document], error) {
	doc, err := contentapi.FetchJSON[Document](ctx, s.client, s.paths.DataBranch, p)
	if err != nil {
		return optional.None[Document](), wrap(msgFetch, err)
	}
	return doc, nil
}

func (s *Store) putDocument(ctx context.Context, ref DocumentReference, p string, doc Document) (Document, error) {
	stamped := doc.Clone()
	if err := stamped.SetField(ProvenanceField, s.provenance); err != nil {
		return nil, wrap(msgEncode, err)
	}
	raw, err := codec.MarshalJSON(stamped)
	if err != nil {
		return nil, wrap(msgEncode, err)
	}
	msg := "Sapphire CMS: changing document " + ref.String()
	if err := s.client.Save(ctx, s.paths.DataBranch, p, codec.EncodeBase64(raw), msg); err != nil {
		return nil, wrap(msgSave, err)
	}
	return stamped, nil
}

func (s *Store) deleteDocument(ctx context.Context, ref DocumentReference, p string) (optional.Option[Document], error) {
	msg := "Sapphire CMS: deleting document " + ref.String()
	deleted, err := s.client.Delete(ctx, s.paths.DataBranch, p, msg)
	if err != nil {
		return optional.None[Document](), wrap(msgDelete, err)
	}
	item, ok := deleted.Get()
	if !ok {
		return optional.None[Document](), nil
	}
	raw, err := codec.DecodeBase64(item.Content)
	if err != nil {
		return optional.None[Document](), wrap(msgDelete, err)
	}
	doc, err := codec.ParseJSON[Document](raw)
	if err != nil {
		return optional.None[Document](), wrap(msgDelete, err)
	}
	return optional.Some(doc), nil
}
