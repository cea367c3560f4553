package storage

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/maruel/ghdocs/internal/codec"
)

// Topology is the shape of a document store.
type Topology string

// Supported topologies.
const (
	// Singleton has exactly one logical document per store name.
	Singleton Topology = "singleton"
	// Collection holds elements identified by a document ID.
	Collection Topology = "collection"
	// Tree holds documents addressed by a path of segments ending in a document ID.
	Tree Topology = "tree"
)

// ProvenanceField is the reserved document field overwritten on every write
// with "<module>@<version>".
const ProvenanceField = "createdBy"

// Document is a JSON object. Fields are kept as raw JSON so that content
// round trips unchanged.
//
// Encoding a Document is deterministic: keys are sorted and values compacted.
type Document map[string]json.RawMessage

// CreatedBy returns the provenance stamp, if any.
func (d Document) CreatedBy() string {
	var s string
	_ = d.Field(ProvenanceField, &s)
	return s
}

// Field unmarshals the field key into v. A missing field leaves v untouched.
func (d Document) Field(key string, v any) error {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// SetField marshals v into the field key.
func (d Document) SetField(key string, v any) error {
	raw, err := codec.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Clone returns a shallow copy; never nil.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	return maps.Clone(d)
}

// DocumentInfo describes one logical document found while listing a store.
type DocumentInfo struct {
	Store    string   `json:"store"`
	Path     []string `json:"path"`
	DocID    string   `json:"docId,omitempty"`
	Variants []string `json:"variants"`
}

// DocumentReference identifies a single document variant.
type DocumentReference struct {
	Store   string
	Path    []string
	DocID   string
	Variant string
}

// String renders store[/segment...][/docId][:variant].
func (r DocumentReference) String() string {
	var b strings.Builder
	b.WriteString(r.Store)
	for _, s := range r.Path {
		b.WriteByte('/')
		b.WriteString(s)
	}
	if r.DocID != "" {
		b.WriteByte('/')
		b.WriteString(r.DocID)
	}
	if r.Variant != "" {
		b.WriteByte(':')
		b.WriteString(r.Variant)
	}
	return b.String()
}

// ContentSchema is the definition of a store, handed to the Prepare hooks.
type ContentSchema struct {
	Name   string          `json:"name"`
	Type   Topology        `json:"type"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// StoreRef is the content map entry of one store.
type StoreRef struct {
	Type Topology `json:"type"`
	// Schema is the repository path of the store's schema, usually under
	// WorkPaths.SchemasDir.
	Schema string `json:"schema,omitempty"`
}

// ContentMap is the cross-cutting metadata of the repository. It is read and
// written as a whole.
//
// Top-level fields unknown to this package are kept in Extra so that a
// get/update cycle does not drop them.
type ContentMap struct {
	Stores    map[string]StoreRef
	Pipelines []string
	Extra     map[string]json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (m ContentMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	stores := m.Stores
	if stores == nil {
		stores = map[string]StoreRef{}
	}
	out["stores"] = stores
	if len(m.Pipelines) != 0 {
		out["pipelines"] = m.Pipelines
	}
	return codec.MarshalJSON(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ContentMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = ContentMap{}
	if v, ok := raw["stores"]; ok {
		if err := json.Unmarshal(v, &m.Stores); err != nil {
			return fmt.Errorf("stores: %w", err)
		}
		delete(raw, "stores")
	}
	if v, ok := raw["pipelines"]; ok {
		if err := json.Unmarshal(v, &m.Pipelines); err != nil {
			return fmt.Errorf("pipelines: %w", err)
		}
		delete(raw, "pipelines")
	}
	if len(raw) != 0 {
		m.Extra = raw
	}
	return nil
}
