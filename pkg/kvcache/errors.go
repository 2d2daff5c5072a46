package kvcache

import "errors"

var (
	// errMissingSerializer is returned when an entry carries an arbitrary
	// object value but no [Options.Serialize] function was configured.
	errMissingSerializer = errors.New("kvcache: value requires Options.Serialize, none configured")

	// errNoValue is a programmer error: an entry must carry either a byte-ish
	// value or a reader factory before it is written out.
	errNoValue = errors.New("kvcache: entry has neither a value nor a reader")

	// errReaderNil is a programmer error: a reader factory returned a nil
	// stream instead of an error.
	errReaderNil = errors.New("kvcache: reader factory returned a nil stream")

	// errFieldTooLarge is returned when a key or meta blob exceeds the
	// 16-bit length the catalog format can frame.
	errFieldTooLarge = errors.New("kvcache: field exceeds 65535 bytes")

	// errValueTooLarge is returned when an inline value exceeds the 32-bit
	// length the catalog format can frame.
	errValueTooLarge = errors.New("kvcache: value exceeds 4GiB")

	// errEmptyKey is a programmer error: put/remove require a non-empty key.
	errEmptyKey = errors.New("kvcache: key must not be empty")

	// errNilEntry is a programmer error: put requires a non-nil entry.
	errNilEntry = errors.New("kvcache: entry must not be nil")
)

// errVersionMismatch is not a failure: a catalog whose first byte differs
// from [currentVersion] is treated as an empty cache (spec: "version
// mismatch"). It is returned by the codec so the Loader can distinguish it
// from a genuine read error, but it never propagates to callers.
var errVersionMismatch = errors.New("kvcache: catalog version mismatch")
