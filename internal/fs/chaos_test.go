package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/kvcache/internal/fs"
)

func TestChaos_ReadFailInjectsErrorNotNotExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{ReadFailRate: 1})

	_, err := chaos.ReadFile(path)
	if err == nil {
		t.Fatal("expected injected read failure")
	}

	if !fs.IsChaosErr(err) {
		t.Fatalf("expected chaos error, got %v", err)
	}

	if os.IsNotExist(err) {
		t.Fatal("chaos must never inject ENOENT")
	}

	if chaos.Stats().ReadFails != 1 {
		t.Fatalf("ReadFails = %d, want 1", chaos.Stats().ReadFails)
	}
}

func TestChaos_NoOpModePassesThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{ReadFailRate: 1})
	chaos.SetMode(fs.ChaosModeNoOp)

	data, err := chaos.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error in no-op mode: %v", err)
	}

	if string(data) != "hello" {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
}

func TestChaos_WriteFailRejectsFlushLikeWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tmp-flush")

	chaos := fs.NewChaos(fs.NewReal(), 2, fs.ChaosConfig{WriteFailRate: 1})

	f, err := chaos.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	_, err = f.Write([]byte("frame"))
	if err == nil {
		t.Fatal("expected injected write failure")
	}

	var chaosErr *fs.ChaosError
	if !errors.As(err, &chaosErr) {
		t.Fatalf("expected *fs.ChaosError, got %T", err)
	}
}
