package kvcache

import (
	"bytes"
	"path/filepath"
)

// catalogName is the fixed file name of the catalog within a store's
// directory (spec: "catalogFile: fixed path dir/cache").
const catalogName = "cache"

// load performs the one-shot initial read of the catalog from disk (spec
// 4.3). It builds the live map from whatever records decode successfully;
// a missing or unreadable file and a version mismatch collapse to "treat
// the cache as empty", and a mid-stream parse error keeps the records
// decoded before it. None of these surfaces an error to the caller.
//
// For [ModeMultiFile], loaded entries are bound to a [Reader] over their
// sidecar path instead of having Value populated; callers read lazily.
func (st *Store) load() {
	live := make(map[string]*CacheEntry)

	data, err := st.fs.ReadFile(filepath.Join(st.dir, catalogName))
	if err == nil {
		records, mode, _ := decodeCatalog(bytes.NewReader(data))

		for _, rec := range records {
			entry := &CacheEntry{Key: rec.key, Meta: rec.meta}

			switch mode {
			case ModeSingleFile:
				if rec.hasValue {
					entry.Value = rec.value
				}
			case ModeMultiFile:
				if rel, ok := entry.metaFile(); ok {
					entry.Reader = st.sidecar.reader(rel)
					entry.Deserialized = DeserializedPending
				}
			}

			if st.opts.Deserialize != nil {
				entry.Deserialize = st.opts.Deserialize

				if entry.Deserialized == DeserializedNotApplicable {
					entry.Deserialized = DeserializedPending
				}
			}

			if st.opts.IsCacheEntryValid == nil || st.opts.IsCacheEntryValid(entry) {
				live[entry.Key] = entry
			}
		}
	}

	st.mu.Lock()
	st.live = live
	st.drainPending()
	st.loaded = true
	st.loading = false
	sig := st.loadSig
	st.mu.Unlock()

	sig.resolve(nil)
}

// drainPending applies every mutation staged in pendingCache (spec: writes
// that arrived before the load completed) on top of the freshly loaded live
// map, in arrival order, then clears pendingCache and, if anything was
// staged, schedules a flush. Called with st.mu held.
func (st *Store) drainPending() {
	if len(st.pendingOrder) > 0 {
		st.scheduleFlush()
	}

	for _, key := range st.pendingOrder {
		op, ok := st.pendingCache[key]
		if !ok {
			continue
		}

		if op.tombstone {
			delete(st.live, key)
		} else {
			st.live[key] = op.entry
		}
	}

	st.pendingCache = nil
	st.pendingOrder = nil
}
