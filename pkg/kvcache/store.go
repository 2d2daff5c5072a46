package kvcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calvinalkan/kvcache/internal/fs"
)

// Store is a persistent, in-memory-backed key/value cache. Reads and writes
// operate on an in-memory map; mutations are durably mirrored to Dir via a
// deferred, coalesced flush. The zero value is not usable; construct with
// [Open].
//
// A Store is safe for concurrent use by multiple goroutines within one
// process. It is not safe for concurrent use across processes against the
// same directory.
type Store struct {
	dir  string
	opts Options
	fs   fs.FS

	sidecar *sidecars

	mu      sync.Mutex
	live    map[string]*CacheEntry
	loaded  bool
	loading bool
	loadSig *signal

	pendingCache map[string]pendingOp
	pendingOrder []string

	modified        bool
	flushing        bool
	writeAfterFlush bool
	flushSig        *signal
	flushTimer      *time.Timer
}

// Open constructs a Store rooted at opts.Dir (or its default). The initial
// catalog load is triggered lazily, by the first [Store.Get], [Store.Put],
// [Store.Remove], or [Store.Flush] call, matching the state machine's
// Empty → Loading transition.
func Open(opts Options) (*Store, error) {
	dir := opts.Dir
	if dir == "" {
		dir = defaultDir()
	}

	filesystem := opts.filesystem()

	if err := filesystem.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvcache: open: %w", err)
	}

	st := &Store{
		dir:          dir,
		opts:         opts,
		fs:           filesystem,
		sidecar:      newSidecars(dir, filesystem),
		pendingCache: make(map[string]pendingOp),
		loadSig:      newSignal(),
	}

	return st, nil
}

// ensureLoading starts the background catalog load the first time it is
// called (Empty → Loading). Called with st.mu held.
func (st *Store) ensureLoading() {
	if st.loaded || st.loading {
		return
	}

	st.loading = true

	go st.load()
}

// Get returns the entry stored under key, blocking until the initial
// catalog load has completed if it has not already. The returned entry is
// a clone; mutating it does not affect the store.
func (st *Store) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if key == "" {
		return nil, errEmptyKey
	}

	st.mu.Lock()
	st.ensureLoading()
	st.mu.Unlock()

	if err := st.awaitLoad(ctx); err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.live[key]
	if !ok {
		return nil, nil
	}

	return entry.clone(), nil
}

// Put stores entry under entry.Key, overwriting any existing entry. It
// never waits for the catalog load or for a file write: if the initial load
// has not yet completed, the mutation is staged in pendingCache and replayed
// once it has (spec 4.3, 4.5), and in [ModeMultiFile] the sidecar write runs
// in the background. In [ModeMultiFile], an entry carrying only a Reader is
// read to the end before Put returns. A durable flush is scheduled per
// Options.FlushDelay.
func (st *Store) Put(ctx context.Context, entry *CacheEntry) error {
	if entry == nil {
		return errNilEntry
	}

	if entry.Key == "" {
		return errEmptyKey
	}

	if entry.Value == nil && entry.Reader == nil {
		return fmt.Errorf("%w: key %q", errNoValue, entry.Key)
	}

	cp := entry.clone()

	if st.opts.mode() == ModeMultiFile {
		if err := st.originateSidecarWrite(cp); err != nil {
			return err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.ensureLoading()

	if !st.loaded {
		st.stagePending(cp.Key, pendingOp{entry: cp})

		return nil
	}

	st.live[cp.Key] = cp
	st.scheduleFlush()

	return nil
}

// originateSidecarWrite externalizes cp's value to a fresh sidecar file in
// the background (spec 4.2: Put begins the write immediately rather than
// waiting for flush). The write runs concurrently with whatever Put does
// next; a later flush or remove never starts one of its own, only joins
// this one through [sidecars.inFlightForEntry].
func (st *Store) originateSidecarWrite(cp *CacheEntry) error {
	if _, alreadyExternalized := cp.metaFile(); alreadyExternalized {
		return nil
	}

	data, err := st.encodeValue(cp)
	if err != nil {
		return err
	}

	st.sidecar.beginWrite(cp, data, func(rel string) {
		st.mu.Lock()
		cp.setMetaFile(rel)
		cp.Value = nil
		cp.Reader = st.sidecar.reader(rel)
		st.mu.Unlock()
	})

	return nil
}

// Remove deletes the entry stored under key, if any. It never blocks on
// I/O: sidecar cleanup runs in the background.
func (st *Store) Remove(ctx context.Context, key string) error {
	if key == "" {
		return errEmptyKey
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.ensureLoading()

	if !st.loaded {
		st.stagePending(key, pendingOp{tombstone: true})

		return nil
	}

	if entry, ok := st.live[key]; ok {
		go st.cleanupSidecar(entry)

		delete(st.live, key)
		st.scheduleFlush()
	}

	return nil
}

// cleanupSidecar unlinks entry's externalized value file, if any, waiting
// out a write still in flight for it first (spec 4.2). An entry that was
// never externalized (ModeSingleFile, or removed before its Put-originated
// write even started) is a no-op. Orphaned sidecars from a failed write are
// tolerated (spec 5: "resource discipline"), so a failure here is not
// surfaced.
func (st *Store) cleanupSidecar(entry *CacheEntry) {
	if sig, inFlight := st.sidecar.inFlightForEntry(entry); inFlight {
		if err := sig.wait(context.Background()); err != nil {
			return
		}
	}

	st.mu.Lock()
	rel, ok := entry.metaFile()
	st.mu.Unlock()

	if !ok {
		return
	}

	_ = st.sidecar.remove(rel)
}

// stagePending records op for key in arrival order. Called with st.mu held.
func (st *Store) stagePending(key string, op pendingOp) {
	if _, exists := st.pendingCache[key]; !exists {
		st.pendingOrder = append(st.pendingOrder, key)
	}

	st.pendingCache[key] = op
}

// Flush forces a durable write of the current in-memory state, waiting for
// it (or any flush already in progress) to complete. A Flush called while
// nothing is modified returns immediately.
func (st *Store) Flush(ctx context.Context) error {
	st.mu.Lock()
	st.ensureLoading()
	st.mu.Unlock()

	if err := st.awaitLoad(ctx); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.flushLocked(ctx)
}

// Free waits out any in-progress load or flush, then resets the store's
// in-memory state to its post-construction condition: the live map,
// pending cache, and signals are cleared, but the on-disk catalog is
// untouched. Free never triggers a flush of its own (spec 4.5): any
// mutation that was never flushed before Free is discarded along with the
// rest of the in-memory state. The next operation against the store
// triggers a fresh load, identical to the load that would follow a process
// restart.
func (st *Store) Free(ctx context.Context) error {
	st.mu.Lock()
	loading := st.loading && !st.loaded
	st.mu.Unlock()

	if loading {
		if err := st.awaitLoad(ctx); err != nil {
			return err
		}
	}

	st.mu.Lock()

	for st.flushing {
		sig := st.flushSig
		st.mu.Unlock()

		if err := sig.wait(ctx); err != nil {
			return err
		}

		st.mu.Lock()
	}

	defer st.mu.Unlock()

	if st.flushTimer != nil {
		st.flushTimer.Stop()
	}

	st.live = nil
	st.loaded = false
	st.loading = false
	st.loadSig = newSignal()
	st.pendingCache = make(map[string]pendingOp)
	st.pendingOrder = nil
	st.modified = false
	st.writeAfterFlush = false
	st.flushing = false
	st.flushSig = nil

	return nil
}

// DecodeString converts raw bytes back to a string using Options.DecodeString
// (defaulting to a direct UTF-8 conversion), for callers that know an
// entry's value was originally written as a string. The store never calls
// this itself: a loaded entry's Value is always the raw bytes decoded from
// the catalog or sidecar, never re-typed back to string automatically.
func (st *Store) DecodeString(b []byte) (string, error) {
	return st.opts.decodeString(b)
}

// awaitLoad blocks until the initial catalog load has completed.
func (st *Store) awaitLoad(ctx context.Context) error {
	st.mu.Lock()
	sig := st.loadSig
	st.mu.Unlock()

	return sig.wait(ctx)
}
