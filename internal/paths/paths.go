// Package paths computes where documents live inside the remote repository.
//
// Every function here is pure. Layout, relative to the data directory:
//
//	documents/singletons/<docId>/<variant>.json
//	documents/collections/<collection>/<docId>/<variant>.json
//	documents/trees/<tree>/<segment>/.../<docId>/<variant>.json
//	content-map.json
package paths

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Defaults applied by Resolve when a parameter is empty.
const (
	DefaultDataBranch   = "master"
	DefaultDataDir      = "sapphire-cms-data"
	DefaultOutputBranch = "gh-pages"
	DefaultOutputDir    = ""

	// Ext is the extension of every stored document file.
	Ext = ".json"
)

// Params are the user supplied locations. Empty fields get defaults.
type Params struct {
	DataBranch   string
	DataDir      string
	OutputBranch string
	OutputDir    string
}

// WorkPaths holds every directory and file location derived from Params.
type WorkPaths struct {
	DataBranch   string
	DataDir      string
	OutputBranch string
	OutputDir    string

	SchemasDir     string
	PipelinesDir   string
	DocumentsDir   string
	SingletonsDir  string
	CollectionsDir string
	TreesDir       string
	ContentMapFile string
}

// Resolve applies defaults and derives every root directory.
func Resolve(p Params) WorkPaths {
	w := WorkPaths{
		DataBranch:   orDefault(p.DataBranch, DefaultDataBranch),
		DataDir:      strings.Trim(orDefault(p.DataDir, DefaultDataDir), "/"),
		OutputBranch: orDefault(p.OutputBranch, DefaultOutputBranch),
		OutputDir:    strings.Trim(p.OutputDir, "/"),
	}
	w.SchemasDir = join(w.DataDir, "schemas")
	w.PipelinesDir = join(w.DataDir, "pipelines")
	w.DocumentsDir = join(w.DataDir, "documents")
	w.SingletonsDir = join(w.DocumentsDir, "singletons")
	w.CollectionsDir = join(w.DocumentsDir, "collections")
	w.TreesDir = join(w.DocumentsDir, "trees")
	w.ContentMapFile = join(w.DataDir, "content-map.json")
	return w
}

// SingletonDir is the folder holding every variant of a singleton.
func (w *WorkPaths) SingletonDir(docID string) string {
	return join(w.SingletonsDir, docID)
}

// SingletonPath is the file of one singleton variant.
func (w *WorkPaths) SingletonPath(docID, variant string) string {
	return join(w.SingletonDir(docID), variant+Ext)
}

// CollectionDir is the folder holding every element of a collection.
func (w *WorkPaths) CollectionDir(name string) string {
	return join(w.CollectionsDir, name)
}

// CollectionElementDir is the folder holding every variant of a collection element.
func (w *WorkPaths) CollectionElementDir(name, docID string) string {
	return join(w.CollectionDir(name), docID)
}

// CollectionElementPath is the file of one collection element variant.
func (w *WorkPaths) CollectionElementPath(name, docID, variant string) string {
	return join(w.CollectionElementDir(name, docID), variant+Ext)
}

// TreeDir is the root folder of a tree.
func (w *WorkPaths) TreeDir(name string) string {
	return join(w.TreesDir, name)
}

// TreeLeafPath is the file of one tree leaf variant.
func (w *WorkPaths) TreeLeafPath(name string, segments []string, docID, variant string) string {
	parts := make([]string, 0, len(segments)+3)
	parts = append(parts, w.TreeDir(name))
	parts = append(parts, segments...)
	parts = append(parts, docID, variant+Ext)
	return join(parts...)
}

// OutputPath is the location of a delivered artifact on the output branch.
func (w *WorkPaths) OutputPath(file string) string {
	return join(w.OutputDir, file)
}

// VariantFromFile returns the variant encoded in a document file name: the
// part before the first dot.
func VariantFromFile(name string) string {
	v, _, _ := strings.Cut(name, ".")
	return v
}

var (
	errEmptyName   = errors.New("name is empty")
	errInvalidName = errors.New("name must not contain '/' or be '.' or '..'")
	errDotVariant  = errors.New("variant must not contain '.'")
)

// ValidName checks that s can be used as a single path segment: a store
// name, a document ID or a tree path segment.
func ValidName(s string) error {
	if s == "" {
		return errEmptyName
	}
	if s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("%q: %w", s, errInvalidName)
	}
	return nil
}

// ValidVariant checks that s is a valid segment that also survives the
// round trip through VariantFromFile.
func ValidVariant(s string) error {
	if err := ValidName(s); err != nil {
		return err
	}
	if strings.Contains(s, ".") {
		return fmt.Errorf("%q: %w", s, errDotVariant)
	}
	return nil
}

func join(parts ...string) string {
	// path.Join drops empty elements, which is what an empty output
	// directory needs.
	return path.Join(parts...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
