package kvcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/calvinalkan/kvcache/internal/fs"
)

// sidecars manages externalized value files for [ModeMultiFile] stores. Each
// entry's value lives at a path derived from a random 128-bit identifier
// rather than the entry's key, so renaming or overwriting the logical key
// never requires touching a file whose name embeds arbitrary user bytes.
//
// In-flight writes are tracked in a side table keyed by *CacheEntry identity
// (spec 9: "hold it in a side table keyed by entry identity rather than
// mutating the entry itself"), separate from the store's own mutex: a write
// is originated by [Store.Put] and runs in a background goroutine, and a
// later [Store.Flush] or [Store.Remove] must be able to find and join it
// while the store's own lock is released around the write's I/O (spec 4.2).
type sidecars struct {
	dir string
	fs  fs.FS

	mu      sync.Mutex
	pending map[*CacheEntry]*signal
}

func newSidecars(dir string, filesystem fs.FS) *sidecars {
	return &sidecars{
		dir:     dir,
		fs:      filesystem,
		pending: make(map[*CacheEntry]*signal),
	}
}

// allocatePath returns a fresh relative sidecar path, namespaced into a
// two-hex-character shard directory to keep any one directory's fan-out
// bounded, mirroring the teacher's scratch file naming in cache_binary.go.
func allocatePath() string {
	hex := uuid.New().String()
	shard := hex[:2]

	name := make([]byte, 0, len(hex)-2)
	for i := 2; i < len(hex); i++ {
		if hex[i] != '-' {
			name = append(name, hex[i])
		}
	}

	return filepath.Join(shard, string(name))
}

// beginWrite originates (or joins) externalizing entry's value to a fresh
// sidecar path in the background and returns a signal that resolves once
// the write lands or fails. A second call for an entry that already has a
// write in flight joins the existing signal instead of racing two writers
// over the same entry (spec 4.2: "idempotent: a write already in flight ...
// is not repeated"). Only [Store.Put] calls this; every other reader of a
// pending write joins it through [sidecars.inFlightForEntry].
//
// On success, onPublish is invoked with the sidecar's relative path before
// the returned signal resolves, so any goroutine unblocked by the signal is
// guaranteed to already observe the publish.
func (s *sidecars) beginWrite(entry *CacheEntry, data []byte, onPublish func(rel string)) *signal {
	s.mu.Lock()

	if sig, ok := s.pending[entry]; ok {
		s.mu.Unlock()

		return sig
	}

	sig := newSignal()
	s.pending[entry] = sig
	s.mu.Unlock()

	rel := allocatePath()

	go func() {
		err := s.writeFile(rel, data)

		// onPublish must run, and be visible, before this entry is dropped
		// from pending: otherwise a concurrent awaitPendingSidecars could
		// observe the entry as neither in flight nor published.
		if err == nil {
			onPublish(rel)
		}

		s.mu.Lock()
		delete(s.pending, entry)
		s.mu.Unlock()

		sig.resolve(err)
	}()

	return sig
}

func (s *sidecars) writeFile(rel string, data []byte) error {
	full := filepath.Join(s.dir, rel)

	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("kvcache: sidecar mkdir %s: %w", rel, err)
	}

	if err := s.fs.WriteFileAtomic(full, data, 0o644); err != nil {
		return fmt.Errorf("kvcache: sidecar write %s: %w", rel, err)
	}

	return nil
}

// inFlightForEntry returns the in-progress write signal for entry, if any.
// Used by [Store.Remove] and the flush path so neither ever races ahead of,
// or re-originates, a write still landing for the entry.
func (s *sidecars) inFlightForEntry(entry *CacheEntry) (*signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.pending[entry]

	return sig, ok
}

// remove deletes the sidecar at rel. A missing file is not an error: the
// entry may never have been flushed before being removed.
func (s *sidecars) remove(rel string) error {
	full := filepath.Join(s.dir, rel)

	err := s.fs.Remove(full)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kvcache: sidecar remove %s: %w", rel, err)
	}

	return nil
}

// reader returns a [Reader] factory streaming the sidecar file at rel.
func (s *sidecars) reader(rel string) Reader {
	full := filepath.Join(s.dir, rel)

	return func() (io.ReadCloser, error) {
		f, err := s.fs.Open(full)
		if err != nil {
			return nil, fmt.Errorf("kvcache: open sidecar %s: %w", rel, err)
		}

		return f, nil
	}
}
