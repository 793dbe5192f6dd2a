// Package docstore emulates the hosted document database the call relay runs
// on: keyed JSON documents grouped in collections, merge writes, and snapshot
// listeners on single documents and equality queries.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Doc is a JSON object. Values follow encoding/json decoding rules, so
// numbers are float64 and nested objects are map[string]any.
type Doc map[string]any

// Ref addresses one document.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Entry is a document together with its id.
type Entry struct {
	ID  string `json:"id"`
	Doc Doc    `json:"doc"`
}

// Normalize round-trips v through JSON so every backend sees the same value
// shapes regardless of what the caller passed in.
func Normalize(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		d = Doc{}
	}
	return d, nil
}

// DeepMerge writes patch into dst. Nested objects merge key by key, so two
// writers touching disjoint nested keys never overwrite each other. Any other
// value replaces what was there.
func DeepMerge(dst, patch map[string]any) {
	for k, v := range patch {
		pm, ok := v.(map[string]any)
		if !ok {
			if d, isDoc := v.(Doc); isDoc {
				pm, ok = map[string]any(d), true
			}
		}
		if ok {
			if cur, isMap := asMap(dst[k]); isMap {
				DeepMerge(cur, pm)
				dst[k] = cur
				continue
			}
			fresh := make(map[string]any, len(pm))
			DeepMerge(fresh, pm)
			dst[k] = fresh
			continue
		}
		dst[k] = v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Doc:
		return map[string]any(m), true
	}
	return nil, false
}

// Filter is a conjunction of top-level field equalities.
type Filter map[string]any

// Match reports whether doc satisfies every clause.
func (f Filter) Match(doc Doc) bool {
	if doc == nil {
		return false
	}
	for k, want := range f {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Normalized returns the filter with values in decoded-JSON form.
func (f Filter) Normalized() Filter {
	d, err := Normalize(map[string]any(f))
	if err != nil {
		return f
	}
	return Filter(d)
}

// ChangeType classifies a query change.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one document entering, changing within, or leaving a query.
type Change struct {
	Type ChangeType
	ID   string
	Doc  Doc
}

// Snapshot is the state of a watched document. Exists is false once the
// document has been deleted or if it never existed.
type Snapshot struct {
	ID     string
	Doc    Doc
	Exists bool
}
