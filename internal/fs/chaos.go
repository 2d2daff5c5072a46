package fs

import (
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often Open/Create/OpenFile fail outright.
	OpenFailRate float64

	// ReadFailRate controls how often ReadFile fails outright.
	ReadFailRate float64

	// WriteFailRate controls how often an open [File]'s Write, or a
	// WriteFileAtomic call, fails outright.
	WriteFailRate float64

	// PartialWriteRate controls how often Write writes a truncated prefix and
	// returns a non-nil error, instead of failing outright.
	PartialWriteRate float64

	// RenameFailRate controls how often Rename fails.
	RenameFailRate float64

	// RemoveFailRate controls how often Remove fails.
	RemoveFailRate float64

	// MkdirAllFailRate controls how often MkdirAll fails.
	MkdirAllFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive injects random failures according to [ChaosConfig].
	// This is the default for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosError marks an error as intentionally injected by [Chaos].
// It wraps the underlying error so errors.Is/As keep working.
type ChaosError struct {
	Err error
}

func (e *ChaosError) Error() string { return "chaos: " + e.Err.Error() }
func (e *ChaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *ChaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random I/O failures for exercising the
// store's durability paths: a failed sidecar write must reject the entry's
// completion signal, and a failed flush must restore the modified flag so
// the next scheduled flush retries everything.
//
// Chaos does not inject ENOENT; any os.IsNotExist result originates from the
// wrapped FS.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	rngMu  sync.Mutex
	config ChaosConfig
	mode   atomic.Uint32

	openFails     atomic.Int64
	readFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	renameFails   atomic.Int64
	removeFails   atomic.Int64
	mkdirFails    atomic.Int64
}

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	WriteFails    int64
	PartialWrites int64
	RenameFails   int64
	RemoveFails   int64
	MkdirFails    int64
}

// NewChaos creates a [Chaos] filesystem wrapping fs. The seed controls
// random fault injection for reproducibility. Panics if fs is nil.
func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	if fs == nil {
		panic("fs is nil")
	}

	return &Chaos{fs: fs, rng: rand.New(rand.NewSource(seed)), config: config}
}

// SetMode updates Chaos's behavior. Safe to call concurrently.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		RenameFails:   c.renameFails.Load(),
		RemoveFails:   c.removeFails.Load(),
		MkdirFails:    c.mkdirFails.Load(),
	}
}

func (c *Chaos) active() bool { return ChaosMode(c.mode.Load()) != ChaosModeNoOp }

func (c *Chaos) should(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func pathError(op, path string, errno syscall.Errno) error {
	return &ChaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

func (c *Chaos) Open(path string) (File, error) {
	return c.openWithChaos("open", path, func() (File, error) { return c.fs.Open(path) })
}

func (c *Chaos) Create(path string) (File, error) {
	return c.openWithChaos("open", path, func() (File, error) { return c.fs.Create(path) })
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return c.openWithChaos("open", path, func() (File, error) { return c.fs.OpenFile(path, flag, perm) })
}

func (c *Chaos) openWithChaos(op, path string, open func() (File, error)) (File, error) {
	if c.active() && c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, pathError(op, path, syscall.EIO)
	}

	f, err := open()
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: f, chaos: c, path: path}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.active() && c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, pathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.active() && c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return pathError("write", path, syscall.EIO)
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.active() && c.should(c.config.MkdirAllFailRate) {
		c.mkdirFails.Add(1)

		return pathError("mkdir", path, syscall.EIO)
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Exists(path string) (bool, error) { return c.fs.Exists(path) }

func (c *Chaos) Remove(path string) error {
	if c.active() && c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return pathError("remove", path, syscall.EIO)
	}

	return c.fs.Remove(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.active() && c.should(c.config.RenameFailRate) {
		c.renameFails.Add(1)

		return &ChaosError{Err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EIO}}
	}

	return c.fs.Rename(oldpath, newpath)
}

// chaosFile wraps an open [File] to inject faults into its Write calls;
// reads and every other method pass through unchanged.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

func (cf *chaosFile) Read(p []byte) (int, error) { return cf.f.Read(p) }

func (cf *chaosFile) Write(p []byte) (int, error) {
	c := cf.chaos

	if c.active() && c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return 0, pathError("write", cf.path, syscall.EIO)
	}

	if c.active() && len(p) > 1 && c.should(c.config.PartialWriteRate) {
		c.partialWrites.Add(1)

		c.rngMu.Lock()
		cutoff := c.rng.Intn(len(p)-1) + 1
		c.rngMu.Unlock()

		n, err := cf.f.Write(p[:cutoff])
		if err != nil {
			return n, err
		}

		return n, pathError("write", cf.path, syscall.EIO)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) Close() error { return cf.f.Close() }
func (cf *chaosFile) Sync() error  { return cf.f.Sync() }

func (cf *chaosFile) Seek(offset int64, whence int) (int64, error) {
	return cf.f.Seek(offset, whence)
}

func (cf *chaosFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
