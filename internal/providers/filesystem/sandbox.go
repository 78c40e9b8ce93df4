package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/laplace/internal/shared/paths"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// DirName is the sandbox directory inside a lapp's data directory
const DirName = paths.FilesDir

// DefaultMaxFileBytes caps a single read or write
const DefaultMaxFileBytes = 8 << 20

var (
	ErrOutsideSandbox = errors.New("path escapes lapp sandbox")
	ErrFileTooLarge   = errors.New("file exceeds sandbox size limit")
	ErrBadPattern     = errors.New("invalid glob pattern")
	ErrClosed         = errors.New("sandbox is closed")
)

// Entry describes one file in a listing
type Entry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified int64  `json:"modified"`
}

// Sandbox is a lapp's private directory. Every path is interpreted relative
// to it and may not leave it, symlinks included.
type Sandbox struct {
	lapp     string
	dir      string
	maxBytes int64

	mu   sync.Mutex
	root *os.Root
}

// Dir returns the sandbox location for lapp under dataDir
func Dir(dataDir, lapp string) string {
	return paths.Files(dataDir, lapp)
}

// Open creates (if needed) and opens the sandbox for lapp
func Open(dataDir, lapp string, maxBytes int64) (*Sandbox, error) {
	if err := paths.ValidateSegment(lapp); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	dir := Dir(dataDir, lapp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox: %w", err)
	}

	return &Sandbox{lapp: lapp, dir: dir, maxBytes: maxBytes, root: root}, nil
}

// Dir returns the sandbox directory on disk
func (s *Sandbox) Dir() string {
	return s.dir
}

// Read returns the contents of a sandbox file
func (s *Sandbox) Read(ctx context.Context, name string) ([]byte, error) {
	rel, err := clean(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return nil, ErrClosed
	}

	f, err := s.root.Open(rel)
	if err != nil {
		return nil, sandboxErr(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("sandbox read %s: %w", rel, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// Write creates or replaces a sandbox file, making parent directories.
// With appendData set the data is appended instead.
func (s *Sandbox) Write(ctx context.Context, name string, data []byte, appendData bool) error {
	rel, err := clean(name)
	if err != nil {
		return err
	}
	if int64(len(data)) > s.maxBytes {
		return ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return ErrClosed
	}

	if err := s.mkdirParents(rel); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendData {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := s.root.OpenFile(rel, flags, 0o644)
	if err != nil {
		return sandboxErr(err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("sandbox write %s: %w", rel, err)
	}
	return f.Close()
}

// List walks the sandbox and returns entries whose slash-separated relative
// path matches pattern (doublestar syntax, "" matches everything), sorted
// by path.
func (s *Sandbox) List(ctx context.Context, pattern string) ([]Entry, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	var (
		mu      sync.Mutex
		entries = []Entry{}
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || p == s.dir {
			return nil
		}

		rel, relErr := filepath.Rel(s.dir, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, rel); !ok {
				return nil
			}
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		mu.Lock()
		entries = append(entries, Entry{
			Path:     rel,
			Size:     info.Size(),
			IsDir:    d.IsDir(),
			Modified: info.ModTime().Unix(),
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox list: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Close releases the sandbox handle; files stay on disk
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// mkdirParents must be called with mu held. os.Root has no MkdirAll, so
// each component is created in turn.
func (s *Sandbox) mkdirParents(rel string) error {
	parent := path.Dir(rel)
	if parent == "." {
		return nil
	}

	current := ""
	for _, part := range strings.Split(parent, "/") {
		current = path.Join(current, part)
		if err := s.root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return sandboxErr(err)
		}
	}
	return nil
}

// clean turns a guest-supplied name into a local slash path
func clean(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideSandbox, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || !filepath.IsLocal(filepath.FromSlash(cleaned)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideSandbox, name)
	}
	return cleaned, nil
}

func sandboxErr(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "escapes") {
		return fmt.Errorf("%w: %s", ErrOutsideSandbox, pathErr.Path)
	}
	return err
}

// Remove deletes the sandbox directory of lapp
func Remove(dataDir, lapp string) error {
	if err := paths.ValidateSegment(lapp); err != nil {
		return err
	}
	if err := os.RemoveAll(Dir(dataDir, lapp)); err != nil {
		return fmt.Errorf("failed to remove sandbox: %w", err)
	}
	return nil
}
