package storage

import (
	"encoding/json"
	"testing"
)

func TestDocument(t *testing.T) {
	t.Parallel()

	t.Run("Fields", func(t *testing.T) {
		d := Document{}
		if err := d.SetField("title", "Hello"); err != nil {
			t.Fatal(err)
		}
		var title string
		if err := d.Field("title", &title); err != nil || title != "Hello" {
			t.Fatalf("Field() = %q, %v", title, err)
		}
		missing := "unchanged"
		if err := d.Field("nope", &missing); err != nil || missing != "unchanged" {
			t.Errorf("missing field: %q, %v", missing, err)
		}
		if d.CreatedBy() != "" {
			t.Errorf("CreatedBy() = %q", d.CreatedBy())
		}
		if err := d.SetField(ProvenanceField, "github@1.0.0"); err != nil {
			t.Fatal(err)
		}
		if d.CreatedBy() != "github@1.0.0" {
			t.Errorf("CreatedBy() = %q", d.CreatedBy())
		}
	})

	t.Run("Clone", func(t *testing.T) {
		var nilDoc Document
		if c := nilDoc.Clone(); c == nil {
			t.Error("Clone() of nil must not be nil")
		}
		d := Document{"a": json.RawMessage(`1`)}
		c := d.Clone()
		c["b"] = json.RawMessage(`2`)
		if _, ok := d["b"]; ok {
			t.Error("Clone() shares the map")
		}
	})

	t.Run("DeterministicEncoding", func(t *testing.T) {
		a, err := json.Marshal(Document{"b": json.RawMessage(`{ "x" : 1 }`), "a": json.RawMessage(`[1, 2]`)})
		if err != nil {
			t.Fatal(err)
		}
		if got := string(a); got != `{"a":[1,2],"b":{"x":1}}` {
			t.Errorf("got %s", got)
		}
	})
}

func TestDocumentReference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ref  DocumentReference
		want string
	}{
		{DocumentReference{Store: "config", Variant: "en"}, "config:en"},
		{DocumentReference{Store: "posts", DocID: "hello", Variant: "fr"}, "posts/hello:fr"},
		{DocumentReference{Store: "docs", Path: []string{"a", "b"}, DocID: "c", Variant: "en"}, "docs/a/b/c:en"},
		{DocumentReference{Store: "docs"}, "docs"},
	}
	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestContentMapJSON(t *testing.T) {
	t.Parallel()
	in := `{"custom":{"k":true},"pipelines":["p/a.json"],"stores":{"posts":{"type":"collection","schema":"s/posts.json"}}}`
	var m ContentMap
	if err := json.Unmarshal([]byte(in), &m); err != nil {
		t.Fatal(err)
	}
	if m.Stores["posts"].Type != Collection || m.Stores["posts"].Schema != "s/posts.json" {
		t.Errorf("stores = %+v", m.Stores)
	}
	if len(m.Pipelines) != 1 || string(m.Extra["custom"]) != `{"k":true}` {
		t.Errorf("unexpected map: %+v", m)
	}
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Errorf("round trip:\n got %s\nwant %s", out, in)
	}

	out, err = json.Marshal(ContentMap{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"stores":{}}` {
		t.Errorf("empty map = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"stores":[]}`), &m); err == nil {
		t.Error("expected error on malformed stores")
	}
}
