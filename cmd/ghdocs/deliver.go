package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/ghdocs/internal/delivery"
	"github.com/spf13/cobra"
)

// Types missing from the mime package built-in table, or mapped differently
// by common system tables.
var mimeOverrides = map[string]string{
	".html": "text/html",
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".ts":   "application/typescript",
}

func mimeForFile(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mimeOverrides[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// slugForFile is the file name relative to base without its extension,
// with '/' separators.
func slugForFile(base, name string) (string, error) {
	rel, err := filepath.Rel(base, name)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside of %s", name, base)
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel)), nil
}

func newDeliverCmd(a *app) *cobra.Command {
	var base, mimeType string
	var watch bool
	cmd := &cobra.Command{
		Use:   "deliver <file>...",
		Short: "Publish rendered files to the output branch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cfg, err := a.contentClient(cmd)
			if err != nil {
				return err
			}
			l, err := delivery.New(c, cfg.WorkPaths())
			if err != nil {
				return err
			}
			d := &deliverer{layer: l, base: base, mime: mimeType, app: a}
			for _, name := range args {
				if err := d.deliver(ctx, name); err != nil {
					return err
				}
			}
			if !watch {
				return nil
			}
			return d.watch(ctx, args)
		},
	}
	cmd.Flags().StringVar(&base, "base", ".", "Directory the artifact slugs are relative to")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Media type of every file, guessed from the extension by default")
	cmd.Flags().BoolVar(&watch, "watch", false, "Deliver the files again whenever they are written")
	return cmd
}

type deliverer struct {
	layer *delivery.Layer
	base  string
	mime  string
	app   *app
}

func (d *deliverer) deliver(ctx context.Context, name string) error {
	content, err := os.ReadFile(name) //nolint:gosec // G304: files are named by the user
	if err != nil {
		return err
	}
	slug, err := slugForFile(d.base, name)
	if err != nil {
		return err
	}
	mt := d.mime
	if mt == "" {
		mt = mimeForFile(name)
	}
	out, err := d.layer.DeliverArtifact(ctx, delivery.Artifact{Slug: slug, MIME: mt, Content: content})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Delivered", "file", name, "resource", out.ResourcePath, "mime", mt)
	return nil
}

// watch delivers files again when they are modified, until ctx is done.
// Editors often replace a file instead of writing it, so the parent
// directories are watched and events are filtered by name.
func (d *deliverer) watch(ctx context.Context, files []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	wanted := make(map[string]string, len(files))
	for _, name := range files {
		abs, err := filepath.Abs(name)
		if err != nil {
			return err
		}
		wanted[abs] = name
		dir := filepath.Dir(abs)
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	slog.InfoContext(ctx, "Watching for changes", "files", len(wanted))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, ok := wanted[event.Name]
			if !ok || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if err := d.deliver(ctx, name); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.WarnContext(ctx, "Failed to deliver", "file", name, "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching files", "err", err)
		}
	}
}
