package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maruel/ghdocs/internal/optional"
	"github.com/maruel/ghdocs/internal/storage"
	"github.com/spf13/cobra"
)

// DefaultVariant is used when --variant is not given.
const DefaultVariant = "default"

var errNotFound = errors.New("document not found")

// target selects a store, and optionally a document inside it.
type target struct {
	singleton  string
	collection string
	tree       string
	path       string
	id         string
	variant    string
}

func (t *target) register(cmd *cobra.Command, document bool) {
	f := cmd.Flags()
	f.StringVar(&t.singleton, "singleton", "", "Singleton document ID")
	f.StringVar(&t.collection, "collection", "", "Collection name")
	f.StringVar(&t.tree, "tree", "", "Tree name")
	cmd.MarkFlagsMutuallyExclusive("singleton", "collection", "tree")
	cmd.MarkFlagsOneRequired("singleton", "collection", "tree")
	if document {
		f.StringVar(&t.path, "path", "", "Folder of the document inside a tree, segments separated by '/'")
		f.StringVar(&t.id, "id", "", "Document ID inside a collection or tree")
		f.StringVar(&t.variant, "variant", DefaultVariant, "Document variant, for example a language")
	}
}

func (t *target) topology() storage.Topology {
	switch {
	case t.singleton != "":
		return storage.Singleton
	case t.collection != "":
		return storage.Collection
	default:
		return storage.Tree
	}
}

func (t *target) segments() []string {
	p := strings.Trim(t.path, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (t *target) check() error {
	if t.topology() == storage.Singleton {
		if t.id != "" || t.path != "" {
			return errors.New("--id and --path do not apply to singletons")
		}
		return nil
	}
	if t.topology() == storage.Collection && t.path != "" {
		return errors.New("--path only applies to trees")
	}
	if t.id == "" {
		return errors.New("--id is required")
	}
	return nil
}

func (t *target) get(ctx context.Context, s storage.PersistenceLayer) (optional.Option[storage.Document], error) {
	switch t.topology() {
	case storage.Singleton:
		return s.GetSingleton(ctx, t.singleton, t.variant)
	case storage.Collection:
		return s.GetFromCollection(ctx, t.collection, t.id, t.variant)
	default:
		return s.GetFromTree(ctx, t.tree, t.segments(), t.id, t.variant)
	}
}

func (t *target) put(ctx context.Context, s storage.PersistenceLayer, doc storage.Document) (storage.Document, error) {
	switch t.topology() {
	case storage.Singleton:
		return s.PutSingleton(ctx, t.singleton, t.variant, doc)
	case storage.Collection:
		return s.PutToCollection(ctx, t.collection, t.id, t.variant, doc)
	default:
		return s.PutToTree(ctx, t.tree, t.segments(), t.id, t.variant, doc)
	}
}

func (t *target) delete(ctx context.Context, s storage.PersistenceLayer) (optional.Option[storage.Document], error) {
	switch t.topology() {
	case storage.Singleton:
		return s.DeleteSingleton(ctx, t.singleton, t.variant)
	case storage.Collection:
		return s.DeleteFromCollection(ctx, t.collection, t.id, t.variant)
	default:
		return s.DeleteFromTree(ctx, t.tree, t.segments(), t.id, t.variant)
	}
}

func (t *target) list(ctx context.Context, s storage.PersistenceLayer) ([]storage.DocumentInfo, error) {
	switch t.topology() {
	case storage.Singleton:
		return s.ListSingleton(ctx, t.singleton)
	case storage.Collection:
		return s.ListAllFromCollection(ctx, t.collection)
	default:
		return s.ListAllFromTree(ctx, t.tree)
	}
}

func newGetCmd(a *app) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print one document variant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.check(); err != nil {
				return err
			}
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			doc, err := t.get(cmd.Context(), s)
			if err != nil {
				return err
			}
			if doc.IsNone() {
				return errNotFound
			}
			return a.print(doc.OrZero())
		},
	}
	t.register(cmd, true)
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store one document variant read as JSON or YAML from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.check(); err != nil {
				return err
			}
			raw, err := a.readInput(args)
			if err != nil {
				return err
			}
			if raw, err = toJSON(raw); err != nil {
				return err
			}
			var doc storage.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("a document must be an object: %w", err)
			}
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			stored, err := t.put(cmd.Context(), s, doc)
			if err != nil {
				return err
			}
			return a.print(stored)
		},
	}
	t.register(cmd, true)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one document variant and print its last content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.check(); err != nil {
				return err
			}
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			doc, err := t.delete(cmd.Context(), s)
			if err != nil {
				return err
			}
			if doc.IsSome() {
				return a.print(doc.OrZero())
			}
			slog.WarnContext(cmd.Context(), "Nothing to delete", "store", t.singleton+t.collection+t.tree, "id", t.id, "variant", t.variant)
			return nil
		},
	}
	t.register(cmd, true)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the documents of a store with their variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			infos, err := t.list(cmd.Context(), s)
			if err != nil {
				return err
			}
			return a.print(infos)
		},
	}
	t.register(cmd, false)
	return cmd
}

func newContentMapCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content-map",
		Short: "Read or replace the content map",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the content map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			m, err := s.GetContentMap(cmd.Context())
			if err != nil {
				return err
			}
			if m.IsNone() {
				return errors.New("content map not found")
			}
			return a.print(m.OrZero())
		},
	}, &cobra.Command{
		Use:   "set [file]",
		Short: "Replace the content map with JSON or YAML read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readInput(args)
			if err != nil {
				return err
			}
			if raw, err = toJSON(raw); err != nil {
				return err
			}
			var m storage.ContentMap
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("invalid content map: %w", err)
			}
			s, err := a.store(cmd)
			if err != nil {
				return err
			}
			return s.UpdateContentMap(cmd.Context(), m)
		},
	})
	return cmd
}
