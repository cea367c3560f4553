package storage

import (
	"context"
	"log/slog"

	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/paths"
)

// ListSingleton returns the singleton docID with the variants found in its
// folder. The result always has exactly one element.
func (s *Store) ListSingleton(ctx context.Context, docID string) ([]DocumentInfo, error) {
	if err := checkName("document ID", docID); err != nil {
		return nil, err
	}
	variants, err := s.variantsFromFolder(ctx, s.paths.SingletonDir(docID))
	if err != nil {
		return nil, err
	}
	return []DocumentInfo{{Store: docID, Path: []string{}, Variants: variants}}, nil
}

// ListAllFromCollection returns every element of the collection that has at
// least one variant.
func (s *Store) ListAllFromCollection(ctx context.Context, name string) ([]DocumentInfo, error) {
	if err := checkName("collection", name); err != nil {
		return nil, err
	}
	dir := s.paths.CollectionDir(name)
	entries, err := s.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	docs := []DocumentInfo{}
	for _, e := range entries {
		if e.Type != contentapi.TypeDir {
			continue
		}
		variants, err := s.variantsFromFolder(ctx, s.paths.CollectionElementDir(name, e.Name))
		if err != nil {
			return nil, err
		}
		if len(variants) == 0 {
			continue
		}
		docs = append(docs, DocumentInfo{Store: name, Path: []string{}, DocID: e.Name, Variants: variants})
	}
	return docs, nil
}

// treeFolder is a pending folder of a tree walk.
type treeFolder struct {
	dir      string
	segments []string // relative to the tree root, never empty
}

// ListAllFromTree walks the tree depth-first and returns every folder that
// directly contains files. Such a folder is reported with its last segment
// as the document ID and the segments before it as the path.
//
// A folder holding both files and sub-folders is reported as a document and
// still walked into.
//
// Files directly under the tree root are not documents and are ignored.
func (s *Store) ListAllFromTree(ctx context.Context, name string) ([]DocumentInfo, error) {
	if err := checkName("tree", name); err != nil {
		return nil, err
	}
	root := s.paths.TreeDir(name)
	entries, err := s.list(ctx, root)
	if err != nil {
		return nil, err
	}

	// Children are pushed in reverse so they pop in listing order.
	var stack []treeFolder
	stack = pushDirs(stack, root, nil, entries)

	docs := []DocumentInfo{}
	for len(stack) != 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := s.list(ctx, f.dir)
		if err != nil {
			return nil, err
		}
		if variants := variantsOf(entries); len(variants) != 0 {
			n := len(f.segments)
			docs = append(docs, DocumentInfo{
				Store:    name,
				Path:     append([]string{}, f.segments[:n-1]...),
				DocID:    f.segments[n-1],
				Variants: variants,
			})
		}
		stack = pushDirs(stack, f.dir, f.segments, entries)
	}
	slog.DebugContext(ctx, "Listed tree", "tree", name, "documents", len(docs))
	return docs, nil
}

func pushDirs(stack []treeFolder, dir string, segments []string, entries []contentapi.Entry) []treeFolder {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != contentapi.TypeDir {
			continue
		}
		segs := make([]string, len(segments), len(segments)+1)
		copy(segs, segments)
		stack = append(stack, treeFolder{dir: dir + "/" + e.Name, segments: append(segs, e.Name)})
	}
	return stack
}

func (s *Store) variantsFromFolder(ctx context.Context, dir string) ([]string, error) {
	entries, err := s.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	return variantsOf(entries), nil
}

func (s *Store) list(ctx context.Context, dir string) ([]contentapi.Entry, error) {
	entries, err := s.client.List(ctx, s.paths.DataBranch, dir)
	if err != nil {
		return nil, wrap(msgFetch, err)
	}
	return entries, nil
}

// variantsOf returns the variant of every file entry, in listing order.
func variantsOf(entries []contentapi.Entry) []string {
	variants := []string{}
	for _, e := range entries {
		if e.Type == contentapi.TypeFile {
			variants = append(variants, paths.VariantFromFile(e.Name))
		}
	}
	return variants
}
