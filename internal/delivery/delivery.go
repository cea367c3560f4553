// Package delivery publishes rendered artifacts to the output branch of the
// repository, typically the one served by GitHub Pages.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/paths"
)

const msgDeliver = "Failed to deliver artifact into GitHub repo"

var extensions = map[string]string{
	"text/plain":             ".txt",
	"text/html":              ".html",
	"text/javascript":        ".js",
	"application/json":       ".json",
	"application/yaml":       ".yaml",
	"application/typescript": ".ts",
}

// ExtensionForMIME returns the file extension used for a media type.
// Parameters such as charset are ignored; unknown types map to ".bin".
func ExtensionForMIME(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt, _, _ = strings.Cut(mediaType, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	return ".bin"
}

// Artifact is rendered content ready to publish.
type Artifact struct {
	// Slug is the output file name without extension. It may contain '/' to
	// publish into sub-directories.
	Slug    string `json:"slug"`
	MIME    string `json:"mime"`
	Content []byte `json:"content"`
}

// DeliveredArtifact is an Artifact after publication.
type DeliveredArtifact struct {
	Artifact
	// ResourcePath is the published file relative to the output directory.
	ResourcePath string `json:"resourcePath"`
}

// DeliveryError reports a failed publication.
type DeliveryError struct {
	Message string
	Cause   error
}

func (e *DeliveryError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// Layer writes artifacts to the output branch.
//
// It holds no mutable state and is safe for concurrent use.
type Layer struct {
	client *contentapi.Client
	paths  paths.WorkPaths
}

// New creates a Layer publishing under the output branch and directory of wp.
func New(client *contentapi.Client, wp paths.WorkPaths) (*Layer, error) {
	if client == nil {
		return nil, errors.New("content client is required")
	}
	return &Layer{client: client, paths: wp}, nil
}

// DeliverArtifact stores a on the output branch. Publishing unchanged
// content does not create a commit.
func (l *Layer) DeliverArtifact(ctx context.Context, a Artifact) (DeliveredArtifact, error) {
	for seg := range strings.SplitSeq(a.Slug, "/") {
		if err := paths.ValidName(seg); err != nil {
			return DeliveredArtifact{}, &DeliveryError{Message: "Invalid artifact slug", Cause: fmt.Errorf("%q: %w", a.Slug, err)}
		}
	}
	file := a.Slug + ExtensionForMIME(a.MIME)
	p := l.paths.OutputPath(file)
	msg := "Sapphire CMS: delivering rendered artifact " + p
	if err := l.client.Save(ctx, l.paths.OutputBranch, p, codec.EncodeBase64(a.Content), msg); err != nil {
		return DeliveredArtifact{}, &DeliveryError{Message: msgDeliver, Cause: err}
	}
	return DeliveredArtifact{Artifact: a, ResourcePath: file}, nil
}
