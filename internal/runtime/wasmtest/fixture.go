package wasmtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Static files written by WriteLapp
const (
	IndexHTML = "<!doctype html><title>lapp</title>"
	AppJS     = "console.log('lapp')"
)

// WriteLapp writes an unpacked lapp named name under parent: a lapp.toml
// with the given permissions plus extra TOML lines, Lapp as server.wasm,
// index.html and static/app.js. It returns the lapp directory.
func WriteLapp(tb testing.TB, parent, name string, perms []string, extra ...string) string {
	tb.Helper()

	quoted := make([]string, len(perms))
	for i, p := range perms {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	manifest := fmt.Sprintf("name = %q\npermissions = [%s]\n", name, strings.Join(quoted, ", "))
	for _, line := range extra {
		manifest += line + "\n"
	}

	dir := filepath.Join(parent, name)
	files := map[string]string{
		"lapp.toml":     manifest,
		"server.wasm":   string(Lapp),
		"index.html":    IndexHTML,
		"static/app.js": AppJS,
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatalf("wasmtest: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			tb.Fatalf("wasmtest: %v", err)
		}
	}
	return dir
}
