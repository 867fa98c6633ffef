package plugin

import (
	"os"
	"path/filepath"
	"strings"
)

// Discover scans dir for .wasm modules and returns their paths sorted by
// filename, skipping anything that does not start with the wasm magic
// number. It does not load or activate anything; Manager.Load does that
// one path at a time so a single bad module cannot block the others.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wasm") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		head := make([]byte, 4)
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		_, _ = f.Read(head)
		f.Close()
		if looksLikeWasm(head) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// DefaultPluginID derives a plugin's identifier when its own metadata does
// not declare one: the module's filename without the .wasm extension.
func DefaultPluginID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
