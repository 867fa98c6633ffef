package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFindsOnlyWasmMagicFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "real.wasm"), []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	writeFile(t, filepath.Join(dir, "fake.wasm"), []byte("not wasm"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))

	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "real.wasm" {
		t.Fatalf("expected only real.wasm, got %v", paths)
	}
}

func TestDiscoverOnMissingDirReturnsError(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected an error for a nonexistent plugin dir")
	}
}

func TestDefaultPluginIDStripsExtension(t *testing.T) {
	if got := DefaultPluginID(filepath.Join("plugins", "greeter.wasm")); got != "greeter" {
		t.Fatalf("expected greeter, got %q", got)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
