package lapps

import (
	"context"
	"path/filepath"

	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime"
)

// Handle is a short-lived borrow of a loaded lapp, valid for one request or
// message. It never keeps the instance alive past an unload; invoking a
// stale handle returns runtime.ErrClosed.
type Handle struct {
	name      string
	dir       string
	staticDir string
	index     string
	perms     permissions.Set
	instance  *runtime.Instance
}

// Name returns the lapp name
func (h *Handle) Name() string {
	return h.name
}

// Permissions returns the lapp's immutable permission set
func (h *Handle) Permissions() permissions.Set {
	return h.perms
}

// Invoke calls a handler export of the live instance
func (h *Handle) Invoke(ctx context.Context, export string, args []byte) ([]byte, error) {
	return h.instance.Invoke(ctx, export, args)
}

// HasExport reports whether the instance exports handler export
func (h *Handle) HasExport(export string) bool {
	return h.instance.HasExport(export)
}

// Assets locates a lapp's static files
type Assets struct {
	Lapp string
	// StaticDir is the URL segment and directory name of static files
	StaticDir string
	// Root is the static directory on disk
	Root string
	// Index is the index file on disk
	Index string
}

func newAssets(name, dir, staticDir, index string) Assets {
	return Assets{
		Lapp:      name,
		StaticDir: staticDir,
		Root:      filepath.Join(dir, filepath.FromSlash(staticDir)),
		Index:     filepath.Join(dir, filepath.FromSlash(index)),
	}
}
