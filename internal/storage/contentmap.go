package storage

import (
	"context"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/optional"
)

// GetContentMap reads the content map, or None if it was never written.
func (s *Store) GetContentMap(ctx context.Context) (optional.Option[ContentMap], error) {
	m, err := contentapi.FetchJSON[ContentMap](ctx, s.client, s.paths.DataBranch, s.paths.ContentMapFile)
	if err != nil {
		return optional.None[ContentMap](), wrap(msgFetchMap, err)
	}
	return m, nil
}

// UpdateContentMap replaces the content map.
func (s *Store) UpdateContentMap(ctx context.Context, m ContentMap) error {
	raw, err := codec.MarshalJSON(m)
	if err != nil {
		return wrap(msgSaveMap, err)
	}
	if err := s.client.Save(ctx, s.paths.DataBranch, s.paths.ContentMapFile, codec.EncodeBase64(raw), "Sapphire CMS: changing content map"); err != nil {
		return wrap(msgSaveMap, err)
	}
	return nil
}
