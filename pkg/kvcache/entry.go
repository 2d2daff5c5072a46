package kvcache

import "io"

// Mode selects how entry values are stored on disk.
type Mode uint8

const (
	// ModeSingleFile inlines every value directly in the catalog file.
	ModeSingleFile Mode = 1

	// ModeMultiFile externalizes every value to a per-entry sidecar file
	// under the store's directory; the catalog holds only keys and meta.
	ModeMultiFile Mode = 2
)

// Deserialized tracks the tri-state lifecycle consumers may drive on a
// loaded entry's value. The store preserves this field but never interprets
// it.
type Deserialized uint8

const (
	// DeserializedNotApplicable is the zero value: no deserialization step
	// applies to this entry.
	DeserializedNotApplicable Deserialized = iota

	// DeserializedPending marks an entry whose value still needs decoding.
	DeserializedPending

	// DeserializedDone marks an entry whose value has already been decoded.
	DeserializedDone
)

// Reader is a lazy stream producer: a zero-argument factory yielding a fresh
// byte stream on each call. It is consumed at most once per call.
type Reader func() (io.ReadCloser, error)

// CacheEntry is the unit of storage. Exactly one of Value or Reader must be
// materially available whenever the entry is written out (flushed, or
// streamed to a sidecar); [Store] enforces this at the boundary and fails
// loudly (programmer error) otherwise.
//
// Value holds one of: nil, []byte, string, or an arbitrary object requiring
// [Options.Serialize]. After sidecar externalization, Value is dropped and
// Reader is rebound to a deferred reader over the sidecar path.
type CacheEntry struct {
	Key   string
	Meta  map[string]any
	Value any
	Reader
	Deserialized Deserialized

	// Deserialize, when set, is [Options.Deserialize] bound to this entry at
	// load time. The store never calls it — it decodes the raw bytes the
	// entry was loaded with into the caller's object, on demand.
	Deserialize func([]byte) (any, error)
}

// metaFile returns the sidecar path recorded in Meta["file"], if any.
func (e *CacheEntry) metaFile() (string, bool) {
	if e == nil || e.Meta == nil {
		return "", false
	}

	v, ok := e.Meta["file"]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

func (e *CacheEntry) setMetaFile(rel string) {
	if e.Meta == nil {
		e.Meta = make(map[string]any, 1)
	}

	e.Meta["file"] = rel
}

// clone returns a shallow copy of e, safe to hand to a caller without
// exposing the store's internal pointer.
func (e *CacheEntry) clone() *CacheEntry {
	if e == nil {
		return nil
	}

	cp := *e

	if e.Meta != nil {
		cp.Meta = make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			cp.Meta[k] = v
		}
	}

	return &cp
}

// pendingOp is the tagged variant staged in pendingCache for mutations that
// arrive before the initial load completes (spec: "prefer a tagged variant
// {Put(entry), Tombstone} to a nullable entry").
type pendingOp struct {
	tombstone bool
	entry     *CacheEntry
}
