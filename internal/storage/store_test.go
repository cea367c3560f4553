package storage

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/contentapi/contentapitest"
	"github.com/maruel/ghdocs/internal/paths"
)

const dataDir = "cms"

func newTestStore(t *testing.T) (*Store, *contentapitest.Server) {
	t.Helper()
	srv := contentapitest.NewServer(t, "octo", "site")
	c, err := contentapi.New(srv.Client(), contentapi.Options{Owner: "octo", Repo: "site", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(c, paths.Resolve(paths.Params{DataDir: dataDir}), WithVersion("1.2.3"))
	if err != nil {
		t.Fatal(err)
	}
	return s, srv
}

func mustDoc(t *testing.T, s string) Document {
	t.Helper()
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, paths.Resolve(paths.Params{})); err == nil {
		t.Error("expected error without client")
	}
	c, err := contentapi.New(nil, contentapi.Options{Owner: "o", Repo: "r"})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(c, paths.Resolve(paths.Params{}))
	if err != nil {
		t.Fatal(err)
	}
	if s.Provenance() != "github@dev" {
		t.Errorf("Provenance() = %q", s.Provenance())
	}
}

func TestSingleton(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()

	in := mustDoc(t, `{"a":1}`)
	stored, err := s.PutSingleton(ctx, "config", "en", in)
	if err != nil {
		t.Fatalf("PutSingleton() failed: %v", err)
	}
	if stored.CreatedBy() != "github@1.2.3" {
		t.Errorf("stamp = %q", stored.CreatedBy())
	}
	if _, ok := in[ProvenanceField]; ok {
		t.Error("PutSingleton() modified its argument")
	}
	raw, ok := srv.ReadFile("master", "cms/documents/singletons/config/en.json")
	if !ok {
		t.Fatal("file not written at the expected path")
	}
	if string(raw) != `{"a":1,"createdBy":"github@1.2.3"}` {
		t.Errorf("stored %s", raw)
	}

	got, err := s.GetSingleton(ctx, "config", "en")
	if err != nil {
		t.Fatalf("GetSingleton() failed: %v", err)
	}
	doc, ok := got.Get()
	if !ok {
		t.Fatal("expected document")
	}
	if string(doc["a"]) != "1" || doc.CreatedBy() != "github@1.2.3" || len(doc) != 2 {
		t.Errorf("GetSingleton() = %v", doc)
	}

	infos, err := s.ListSingleton(ctx, "config")
	if err != nil {
		t.Fatal(err)
	}
	want := []DocumentInfo{{Store: "config", Path: []string{}, Variants: []string{"en"}}}
	if !reflect.DeepEqual(infos, want) {
		t.Errorf("ListSingleton() = %+v, want %+v", infos, want)
	}

	commits := srv.Commits()
	if len(commits) != 1 || commits[0].Message != "Sapphire CMS: changing document config:en" {
		t.Errorf("unexpected commits: %+v", commits)
	}
}

func TestPutIdenticalIsNoop(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()
	for range 2 {
		if _, err := s.PutToCollection(ctx, "posts", "hello", "en", mustDoc(t, `{"title":"Hi","n":[1,2]}`)); err != nil {
			t.Fatal(err)
		}
	}
	if n := srv.RequestCount(http.MethodPut); n != 1 {
		t.Errorf("expected 1 PUT, got %d", n)
	}
	// Same content with different formatting and key order encodes the same.
	if _, err := s.PutToCollection(ctx, "posts", "hello", "en", mustDoc(t, `{ "n" : [1, 2], "title" : "Hi" }`)); err != nil {
		t.Fatal(err)
	}
	if n := srv.RequestCount(http.MethodPut); n != 1 {
		t.Errorf("expected 1 PUT, got %d", n)
	}
	if _, err := s.PutToCollection(ctx, "posts", "hello", "en", mustDoc(t, `{"title":"Bye"}`)); err != nil {
		t.Fatal(err)
	}
	if n := srv.RequestCount(http.MethodPut); n != 2 {
		t.Errorf("expected 2 PUT, got %d", n)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := t.Context()
	in := mustDoc(t, `{"title":"T","body":{"blocks":[{"t":"p","v":"x"}]},"n":1.5,"createdBy":"someone else"}`)

	if _, err := s.PutToTree(ctx, "docs", []string{"guide", "start"}, "intro", "en", in); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetFromTree(ctx, "docs", []string{"guide", "start"}, "intro", "en")
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := got.Get()
	if !ok {
		t.Fatal("expected document")
	}
	for k, v := range in {
		if k == ProvenanceField {
			continue
		}
		if string(doc[k]) != string(v) {
			t.Errorf("field %q = %s, want %s", k, doc[k], v)
		}
	}
	if doc.CreatedBy() != "github@1.2.3" {
		t.Errorf("stamp = %q", doc.CreatedBy())
	}

	if _, err := s.PutToCollection(ctx, "posts", "p1", "fr", in); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetFromCollection(ctx, "posts", "p1", "fr")
	if err != nil || got.IsNone() {
		t.Fatalf("GetFromCollection() = %v, %v", got, err)
	}
}

func TestAbsence(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()

	if got, err := s.GetSingleton(ctx, "nope", "en"); err != nil || got.IsSome() {
		t.Errorf("GetSingleton() = %v, %v", got, err)
	}
	if got, err := s.GetFromCollection(ctx, "nope", "x", "en"); err != nil || got.IsSome() {
		t.Errorf("GetFromCollection() = %v, %v", got, err)
	}
	if got, err := s.GetFromTree(ctx, "nope", []string{"a"}, "x", "en"); err != nil || got.IsSome() {
		t.Errorf("GetFromTree() = %v, %v", got, err)
	}
	if got, err := s.DeleteSingleton(ctx, "nope", "en"); err != nil || got.IsSome() {
		t.Errorf("DeleteSingleton() = %v, %v", got, err)
	}
	if got, err := s.DeleteFromCollection(ctx, "nope", "x", "en"); err != nil || got.IsSome() {
		t.Errorf("DeleteFromCollection() = %v, %v", got, err)
	}
	if got, err := s.DeleteFromTree(ctx, "nope", nil, "x", "en"); err != nil || got.IsSome() {
		t.Errorf("DeleteFromTree() = %v, %v", got, err)
	}
	if infos, err := s.ListAllFromCollection(ctx, "nope"); err != nil || len(infos) != 0 {
		t.Errorf("ListAllFromCollection() = %v, %v", infos, err)
	}
	if infos, err := s.ListAllFromTree(ctx, "nope"); err != nil || len(infos) != 0 {
		t.Errorf("ListAllFromTree() = %v, %v", infos, err)
	}
	infos, err := s.ListSingleton(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || len(infos[0].Variants) != 0 {
		t.Errorf("ListSingleton() = %+v", infos)
	}
	if n := len(srv.Commits()); n != 0 {
		t.Errorf("unexpected mutations: %d", n)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()
	if _, err := s.PutToTree(ctx, "docs", []string{"a"}, "b", "en", mustDoc(t, `{"x":"y"}`)); err != nil {
		t.Fatal(err)
	}

	got, err := s.DeleteFromTree(ctx, "docs", []string{"a"}, "b", "en")
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := got.Get()
	if !ok {
		t.Fatal("expected last content")
	}
	if string(doc["x"]) != `"y"` || doc.CreatedBy() != "github@1.2.3" {
		t.Errorf("deleted = %v", doc)
	}
	commits := srv.Commits()
	last := commits[len(commits)-1]
	if last.Method != http.MethodDelete || last.Message != "Sapphire CMS: deleting document docs/a/b:en" || last.Branch != "master" {
		t.Errorf("unexpected commit: %+v", last)
	}

	got, err = s.DeleteFromTree(ctx, "docs", []string{"a"}, "b", "en")
	if err != nil || got.IsSome() {
		t.Errorf("second delete = %v, %v", got, err)
	}
	if infos, err := s.ListAllFromTree(ctx, "docs"); err != nil || len(infos) != 0 {
		t.Errorf("ListAllFromTree() after delete = %v, %v", infos, err)
	}
}

func TestListAllFromCollection(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()
	base := dataDir + "/documents/collections/posts/"
	srv.WriteFile("master", base+"a/en.json", []byte(`{}`))
	srv.WriteFile("master", base+"a/fr.json", []byte(`{}`))
	srv.WriteFile("master", base+"b/en.json", []byte(`{}`))
	srv.WriteFile("master", base+"stray.json", []byte(`{}`))
	srv.Mkdir("master", base+"empty")
	srv.WriteFile("master", base+"nested/sub/en.json", []byte(`{}`))

	infos, err := s.ListAllFromCollection(ctx, "posts")
	if err != nil {
		t.Fatal(err)
	}
	want := []DocumentInfo{
		{Store: "posts", Path: []string{}, DocID: "a", Variants: []string{"en", "fr"}},
		{Store: "posts", Path: []string{}, DocID: "b", Variants: []string{"en"}},
	}
	if !reflect.DeepEqual(infos, want) {
		t.Errorf("ListAllFromCollection() =\n%+v\nwant\n%+v", infos, want)
	}
}

func TestListAllFromCollectionOnlyEmptyElement(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	srv.Mkdir("master", dataDir+"/documents/collections/posts/empty")
	infos, err := s.ListAllFromCollection(t.Context(), "posts")
	if err != nil {
		t.Fatal(err)
	}
	if infos == nil || len(infos) != 0 {
		t.Errorf("expected empty list, got %#v", infos)
	}
}

func TestListAllFromTree(t *testing.T) {
	t.Parallel()

	t.Run("SingleLeaf", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		srv.WriteFile("master", dataDir+"/documents/trees/docs/a/b/en.json", []byte(`{}`))
		infos, err := s.ListAllFromTree(t.Context(), "docs")
		if err != nil {
			t.Fatal(err)
		}
		want := []DocumentInfo{{Store: "docs", Path: []string{"a"}, DocID: "b", Variants: []string{"en"}}}
		if !reflect.DeepEqual(infos, want) {
			t.Errorf("ListAllFromTree() = %+v, want %+v", infos, want)
		}
	})

	t.Run("Nested", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		root := dataDir + "/documents/trees/docs/"
		srv.WriteFile("master", root+"readme.json", []byte(`{}`))
		srv.WriteFile("master", root+"a/en.json", []byte(`{}`))
		srv.WriteFile("master", root+"a/b/en.json", []byte(`{}`))
		srv.WriteFile("master", root+"a/b/fr.json", []byte(`{}`))
		srv.WriteFile("master", root+"a/b/c/d/en.json", []byte(`{}`))
		srv.WriteFile("master", root+"a/z/en.json", []byte(`{}`))
		srv.WriteFile("master", root+"top/en.json", []byte(`{}`))
		srv.Mkdir("master", root+"hollow/inner")

		gets := srv.RequestCount(http.MethodGet)
		infos, err := s.ListAllFromTree(t.Context(), "docs")
		if err != nil {
			t.Fatal(err)
		}
		want := []DocumentInfo{
			{Store: "docs", Path: []string{}, DocID: "a", Variants: []string{"en"}},
			{Store: "docs", Path: []string{"a"}, DocID: "b", Variants: []string{"en", "fr"}},
			{Store: "docs", Path: []string{"a", "b", "c"}, DocID: "d", Variants: []string{"en"}},
			{Store: "docs", Path: []string{"a"}, DocID: "z", Variants: []string{"en"}},
			{Store: "docs", Path: []string{}, DocID: "top", Variants: []string{"en"}},
		}
		if !reflect.DeepEqual(infos, want) {
			t.Errorf("ListAllFromTree() =\n%+v\nwant\n%+v", infos, want)
		}
		// One listing per folder: root, a, a/b, a/b/c, a/b/c/d, a/z, hollow, hollow/inner, top.
		if n := srv.RequestCount(http.MethodGet) - gets; n != 9 {
			t.Errorf("expected 9 listings, got %d", n)
		}
	})
}

func TestContentMap(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()

	got, err := s.GetContentMap(ctx)
	if err != nil || got.IsSome() {
		t.Fatalf("GetContentMap() = %v, %v", got, err)
	}

	m := ContentMap{
		Stores: map[string]StoreRef{
			"posts": {Type: Collection, Schema: dataDir + "/schemas/posts.json"},
		},
		Pipelines: []string{dataDir + "/pipelines/html.json"},
	}
	if err := s.UpdateContentMap(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, ok := srv.ReadFile("master", dataDir+"/content-map.json"); !ok {
		t.Fatal("content map not written")
	}
	got, err = s.GetContentMap(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cm, ok := got.Get()
	if !ok || !reflect.DeepEqual(cm, m) {
		t.Errorf("GetContentMap() = %+v, want %+v", cm, m)
	}
	if err := s.UpdateContentMap(ctx, m); err != nil {
		t.Fatal(err)
	}
	commits := srv.Commits()
	if len(commits) != 1 || commits[0].Message != "Sapphire CMS: changing content map" {
		t.Errorf("unexpected commits: %+v", commits)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("Transport", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		srv.FailNext(http.MethodGet, http.StatusInternalServerError, "boom")
		_, err := s.GetSingleton(t.Context(), "config", "en")
		var pe *PersistenceError
		if !errors.As(err, &pe) || pe.Message != msgFetch {
			t.Fatalf("expected PersistenceError, got %v", err)
		}
		var te *contentapi.TransportError
		if !errors.As(err, &te) || te.StatusCode != http.StatusInternalServerError {
			t.Errorf("cause = %v", pe.Cause)
		}
	})

	t.Run("Parsing", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		srv.WriteFile("master", dataDir+"/documents/singletons/config/en.json", []byte(`[1,2]`))
		_, err := s.GetSingleton(t.Context(), "config", "en")
		var pe *codec.ParsingError
		if !errors.As(err, &pe) {
			t.Errorf("expected ParsingError, got %v", err)
		}
	})

	t.Run("Conflict", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		ctx := t.Context()
		if _, err := s.PutSingleton(ctx, "config", "en", Document{}); err != nil {
			t.Fatal(err)
		}
		srv.FailNext(http.MethodPut, http.StatusConflict, "is at abc but expected def")
		_, err := s.PutSingleton(ctx, "config", "en", mustDoc(t, `{"v":2}`))
		var te *contentapi.TransportError
		if !errors.As(err, &te) || !te.IsConflict() {
			t.Fatalf("expected conflict, got %v", err)
		}
		if !strings.HasPrefix(err.Error(), msgSave) {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("DeleteFailure", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		ctx := t.Context()
		if _, err := s.PutSingleton(ctx, "config", "en", Document{}); err != nil {
			t.Fatal(err)
		}
		srv.FailNext(http.MethodDelete, http.StatusForbidden, "Resource not accessible by integration")
		_, err := s.DeleteSingleton(ctx, "config", "en")
		var pe *PersistenceError
		if !errors.As(err, &pe) || pe.Message != msgDelete {
			t.Errorf("expected delete PersistenceError, got %v", err)
		}
	})

	t.Run("InvalidReference", func(t *testing.T) {
		t.Parallel()
		s, srv := newTestStore(t)
		ctx := t.Context()
		calls := []func() error{
			func() error { _, err := s.GetSingleton(ctx, "a/b", "en"); return err },
			func() error { _, err := s.GetSingleton(ctx, "a", "en.US"); return err },
			func() error { _, err := s.GetFromCollection(ctx, "posts", "", "en"); return err },
			func() error { _, err := s.PutToTree(ctx, "docs", []string{".."}, "x", "en", Document{}); return err },
			func() error { _, err := s.DeleteFromTree(ctx, "docs", []string{"a"}, "x", ""); return err },
			func() error { _, err := s.ListAllFromTree(ctx, ""); return err },
			func() error { _, err := s.ListAllFromCollection(ctx, "."); return err },
			func() error { _, err := s.ListSingleton(ctx, "a/b"); return err },
		}
		for i, call := range calls {
			var pe *PersistenceError
			if err := call(); !errors.As(err, &pe) || pe.Message != msgInvalidRef {
				t.Errorf("call %d: expected invalid reference, got %v", i, err)
			}
		}
		if n := srv.RequestCount(http.MethodGet); n != 0 {
			t.Errorf("invalid references must not reach the network, got %d GET", n)
		}
	})
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()
	schema := ContentSchema{Name: "posts", Type: Collection}
	if err := s.PrepareSingletonRepo(ctx, schema); err != nil {
		t.Error(err)
	}
	if err := s.PrepareCollectionRepo(ctx, schema); err != nil {
		t.Error(err)
	}
	if err := s.PrepareTreeRepo(ctx, schema); err != nil {
		t.Error(err)
	}
	if n := srv.RequestCount(http.MethodGet); n != 0 {
		t.Errorf("prepare hooks must not call the API, got %d", n)
	}
}

func TestPutKeepsMarkup(t *testing.T) {
	t.Parallel()
	s, srv := newTestStore(t)
	ctx := t.Context()
	in := Document{"body": json.RawMessage(`"<p>Tom & Jerry</p>"`)}
	if _, err := s.PutSingleton(ctx, "home", "en", in); err != nil {
		t.Fatal(err)
	}
	raw, ok := srv.ReadFile("master", dataDir+"/documents/singletons/home/en.json")
	if !ok {
		t.Fatal("document not stored")
	}
	if want := `{"body":"<p>Tom & Jerry</p>","createdBy":"github@1.2.3"}`; string(raw) != want {
		t.Errorf("stored %s, want %s", raw, want)
	}
	got, err := s.GetSingleton(ctx, "home", "en")
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := got.Get()
	if !ok {
		t.Fatal("expected document")
	}
	if string(doc["body"]) != `"<p>Tom & Jerry</p>"` {
		t.Errorf("put %s, got %s", in["body"], doc["body"])
	}

	m := ContentMap{Extra: map[string]json.RawMessage{"title": json.RawMessage(`"A & B"`)}}
	if err := s.UpdateContentMap(ctx, m); err != nil {
		t.Fatal(err)
	}
	raw, _ = srv.ReadFile("master", dataDir+"/content-map.json")
	if want := `{"stores":{},"title":"A & B"}`; string(raw) != want {
		t.Errorf("content map stored %s, want %s", raw, want)
	}
}
