package kvcache

import (
	"os"
	"time"

	"github.com/calvinalkan/kvcache/internal/fs"
)

// DefaultFlushDelay is the coalescing window used when [Options.FlushDelay]
// is left at its zero value.
const DefaultFlushDelay = 1 * time.Second

// Options configures a [Store] at construction, mirroring the layered
// defaults-then-overrides style the teacher's config loader uses, trimmed
// to the single layer a library constructor needs.
type Options struct {
	// Dir is the root directory. Created if missing. Defaults to
	// "<cwd>/.cache" if empty.
	Dir string

	// FlushDelay is the coalescing window. Nil (the zero value) means
	// [DefaultFlushDelay]; an explicit zero means "flush on the next tick"
	// rather than coalescing at all. Negative disables scheduled flushing
	// entirely — callers must invoke [Store.Flush] themselves. Use
	// [Duration] to set this from a literal.
	FlushDelay *time.Duration

	// MultiFile selects [ModeMultiFile] (values in sidecar files) instead of
	// the default [ModeSingleFile] (values inlined in the catalog).
	MultiFile bool

	// EncodeString converts a string value to bytes on write. Defaults to
	// UTF-8 (direct byte conversion).
	EncodeString func(string) ([]byte, error)

	// DecodeString converts decoded bytes back to a string on read, used by
	// consumers that registered a string encoding. Defaults to UTF-8.
	DecodeString func([]byte) (string, error)

	// Serialize converts an arbitrary object value to bytes. Required if any
	// entry's Value is not []byte or string.
	Serialize func(any) ([]byte, error)

	// Deserialize converts bytes back to an arbitrary object. Attached to
	// entries built by the Loader; the store never calls it itself.
	Deserialize func([]byte) (any, error)

	// IsCacheEntryValid is invoked per entry during load; entries for which
	// it returns false are discarded. Nil accepts every entry.
	IsCacheEntryValid func(*CacheEntry) bool

	// fs is the filesystem abstraction, overridable in tests. Defaults to
	// [fs.NewReal].
	fs fs.FS
}

func (o Options) mode() Mode {
	if o.MultiFile {
		return ModeMultiFile
	}

	return ModeSingleFile
}

func (o Options) flushDelay() time.Duration {
	if o.FlushDelay == nil {
		return DefaultFlushDelay
	}

	return *o.FlushDelay
}

// Duration returns a pointer to d, for setting [Options.FlushDelay] from a
// literal, e.g. Options{FlushDelay: kvcache.Duration(0)}.
func Duration(d time.Duration) *time.Duration {
	return &d
}

func (o Options) encodeString(s string) ([]byte, error) {
	if o.EncodeString != nil {
		return o.EncodeString(s)
	}

	return []byte(s), nil
}

func (o Options) decodeString(b []byte) (string, error) {
	if o.DecodeString != nil {
		return o.DecodeString(b)
	}

	return string(b), nil
}

func (o Options) filesystem() fs.FS {
	if o.fs != nil {
		return o.fs
	}

	return fs.NewReal()
}

func defaultDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ".cache"
	}

	return wd + "/.cache"
}
