package lapps

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zip"
)

// DefaultMaxPackageBytes caps the unpacked size of one lapp
const DefaultMaxPackageBytes = 256 << 20

var (
	errUnsafePath    = errors.New("entry escapes the package root")
	errPackageSize   = errors.New("package exceeds the size limit")
	errSymlinkInside = errors.New("symlinks are not allowed in packages")
)

// extractZip unpacks a zip archive into dest
func extractZip(r io.ReaderAt, size int64, dest string, maxBytes int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("read zip: %w", err)
	}

	var total int64
	for _, f := range zr.File {
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return fmt.Errorf("%w: %s", errUnsafePath, f.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(f.Name))

		mode := f.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			return fmt.Errorf("%w: %s", errSymlinkInside, f.Name)
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		total += int64(f.UncompressedSize64)
		if total > maxBytes {
			return errPackageSize
		}
		if err := extractFile(f, target, maxBytes); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	// The header size can lie; bound the copy independently.
	n, err := io.Copy(out, io.LimitReader(rc, maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > maxBytes {
		return errPackageSize
	}
	return nil
}

// packageRoot finds the directory holding the manifest: the staging
// directory itself or its single top-level directory
func packageRoot(stage string) (string, error) {
	if _, _, err := readManifest(stage); !errors.Is(err, errNoManifest) {
		return stage, err
	}

	entries, err := os.ReadDir(stage)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		nested := filepath.Join(stage, entries[0].Name())
		if _, _, err := readManifest(nested); err != nil {
			return "", err
		}
		return nested, nil
	}
	return "", errNoManifest
}

// copyDir copies a lapp directory tree, skipping symlinks
func copyDir(src, dst string) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// dirSize sums regular file sizes under dir
func dirSize(dir string) int64 {
	var total atomic.Int64
	conf := fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total.Add(info.Size())
		}
		return nil
	})
	return total.Load()
}
