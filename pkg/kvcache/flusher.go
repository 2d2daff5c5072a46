package kvcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// scheduleFlush arms (or re-arms) the coalescing timer so that a burst of
// mutations within FlushDelay of each other produces exactly one flush
// (spec 4.4). Called with st.mu held.
//
// A negative FlushDelay disables scheduled flushing entirely: callers must
// invoke [Store.Flush] explicitly. If a flush is already running when a new
// mutation arrives, writeAfterFlush is latched instead of arming a second
// timer, so the running flush's own completion kicks off exactly one more
// flush covering whatever arrived during it.
func (st *Store) scheduleFlush() {
	st.modified = true

	if st.opts.flushDelay() < 0 {
		// disabled: the mutation still marks modified so an explicit Flush
		// picks it up, but no timer is armed.
		return
	}

	if st.flushing {
		st.writeAfterFlush = true

		return
	}

	if st.flushTimer != nil {
		st.flushTimer.Stop()
	}

	st.flushTimer = time.AfterFunc(st.opts.flushDelay(), func() {
		_ = st.Flush(context.Background())
	})
}

// flushLocked runs one flush pass: it must be called with st.mu held and
// returns with st.mu held. It releases the lock internally around I/O
// (spec 5: "suspension points run with the lock released") and re-acquires
// it before returning.
func (st *Store) flushLocked(ctx context.Context) error {
	// a flush already running may have snapshotted its keys before the
	// caller's mutations: wait it out, then flush again if still modified.
	for st.flushing {
		sig := st.flushSig
		st.mu.Unlock()
		err := sig.wait(ctx)
		st.mu.Lock()

		if err != nil {
			return err
		}
	}

	if !st.modified {
		return nil
	}

	st.flushing = true
	st.writeAfterFlush = false
	st.modified = false
	sig := newSignal()
	st.flushSig = sig

	// snapshot the key set, not the entries: spec 4.4 step 8 requires a
	// fresh presence check against the live map for each key as it is
	// about to be written, since a concurrent Remove can drop it while the
	// catalog write runs with st.mu released.
	keys := make([]string, 0, len(st.live))
	for k := range st.live {
		keys = append(keys, k)
	}

	mode := st.opts.mode()

	st.mu.Unlock()
	err := st.writeCatalog(ctx, keys, mode)
	st.mu.Lock()

	st.flushing = false
	st.flushSig = nil

	if err != nil {
		// restore modified so the next scheduled or explicit flush retries
		// everything (spec 9: a failed flush must not silently drop work).
		st.modified = true
		sig.resolve(err)

		return err
	}

	sig.resolve(nil)

	if st.writeAfterFlush {
		st.writeAfterFlush = false
		st.modified = true
		st.scheduleFlush()
	}

	return nil
}

// writeCatalog waits out, for ModeMultiFile, each key's sidecar publish (the
// write itself is always originated by [Store.Put], never here), then
// serializes the full catalog and rewrites it atomically. Called with st.mu
// released. keys is the key set snapshotted at flush start; each key is
// re-checked against the live map immediately before it contributes a
// record, so a key removed concurrently while the flush ran is silently
// skipped rather than written (spec 4.4 step 8).
func (st *Store) writeCatalog(ctx context.Context, keys []string, mode Mode) error {
	if mode == ModeMultiFile {
		if err := st.awaitPendingSidecars(ctx, keys); err != nil {
			return fmt.Errorf("kvcache: flush: sidecar write: %w", err)
		}
	}

	var buf bytes.Buffer

	buf.Write(encodeHeader(currentVersion, mode))

	for _, key := range keys {
		st.mu.Lock()
		entry, ok := st.live[key]
		st.mu.Unlock()

		if !ok {
			continue
		}

		metaJSON, err := encodeMeta(entry.Meta)
		if err != nil {
			return fmt.Errorf("kvcache: flush: encode meta for %q: %w", entry.Key, err)
		}

		var value []byte

		if mode == ModeSingleFile {
			value, err = st.encodeValue(entry)
			if err != nil {
				return err
			}
		}

		if err := writeRecord(&buf, mode, entry.Key, metaJSON, value); err != nil {
			return fmt.Errorf("kvcache: flush: encode record for %q: %w", entry.Key, err)
		}
	}

	path := filepath.Join(st.dir, catalogName)

	if err := st.fs.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("kvcache: flush: write catalog: %w", err)
	}

	return nil
}

// awaitPendingSidecars blocks until every key still present in the live map
// has a published sidecar file, joining each entry's in-flight write signal
// concurrently (one errgroup goroutine per in-flight key, first error wins)
// rather than one at a time. A key whose
// entry carries neither a published sidecar nor one in flight means Put was
// never given the chance to originate the write (programmer error, not
// something flush can repair by starting one itself).
func (st *Store) awaitPendingSidecars(ctx context.Context, keys []string) error {
	grp, grpCtx := errgroup.WithContext(ctx)

	for _, key := range keys {
		st.mu.Lock()
		entry, ok := st.live[key]
		st.mu.Unlock()

		if !ok {
			continue
		}

		st.mu.Lock()
		_, published := entry.metaFile()
		st.mu.Unlock()

		if published {
			continue
		}

		sig, inFlight := st.sidecar.inFlightForEntry(entry)
		if !inFlight {
			return fmt.Errorf("kvcache: key %q has no sidecar write in flight or published", entry.Key)
		}

		grp.Go(func() error {
			return sig.wait(grpCtx)
		})
	}

	return grp.Wait()
}

// encodeValue produces the byte representation of entry's Value, per
// Options.Serialize/EncodeString, for an entry that has not yet been
// deferred to a sidecar [Reader].
func (st *Store) encodeValue(entry *CacheEntry) ([]byte, error) {
	switch v := entry.Value.(type) {
	case nil:
		if entry.Reader == nil {
			return nil, fmt.Errorf("%w: key %q", errNoValue, entry.Key)
		}

		r, err := entry.Reader()
		if err != nil {
			return nil, err
		}

		if r == nil {
			return nil, fmt.Errorf("%w: key %q", errReaderNil, entry.Key)
		}

		defer r.Close()

		return io.ReadAll(r)
	case []byte:
		return v, nil
	case string:
		return st.opts.encodeString(v)
	default:
		if st.opts.Serialize == nil {
			return nil, fmt.Errorf("%w: key %q", errMissingSerializer, entry.Key)
		}

		return st.opts.Serialize(v)
	}
}
