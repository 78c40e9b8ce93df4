// Package paths defines the host's on-disk layout:
//
//	<lapps_dir>/
//	  ├── .install-*/       staging for installs in progress
//	  └── <lapp>/           installation: manifest, wasm module, static files
//	<data_dir>/
//	  └── <lapp>/           private data, deleted only by remove
//	      ├── lapp.db       storage database
//	      └── files/        file-read / file-write sandbox
//
// Every helper takes the lapp name as a single path segment and refuses
// anything that could address another directory.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Layout names
const (
	DatabaseFile = "lapp.db"
	FilesDir     = "files"
	StagePrefix  = ".install-"
)

var errEmptyName = errors.New("lapp name is required")

// ValidateSegment checks that lapp is usable as one directory name
func ValidateSegment(lapp string) error {
	switch {
	case lapp == "":
		return errEmptyName
	case lapp == "." || lapp == "..":
		return fmt.Errorf("lapp name %q is not a directory name", lapp)
	case strings.ContainsAny(lapp, `/\`) || filepath.IsAbs(lapp):
		return fmt.Errorf("lapp name %q contains path separators", lapp)
	case strings.HasPrefix(lapp, StagePrefix):
		return fmt.Errorf("lapp name %q collides with install staging", lapp)
	}
	return nil
}

// Install returns the installation directory of lapp
func Install(lappsDir, lapp string) string {
	return filepath.Join(lappsDir, lapp)
}

// Data returns the private data directory of lapp
func Data(dataDir, lapp string) string {
	return filepath.Join(dataDir, lapp)
}

// Database returns the storage database file of lapp
func Database(dataDir, lapp string) string {
	return filepath.Join(dataDir, lapp, DatabaseFile)
}

// Files returns the sandbox directory of lapp
func Files(dataDir, lapp string) string {
	return filepath.Join(dataDir, lapp, FilesDir)
}

// StagePattern is the os.MkdirTemp pattern for install staging
func StagePattern() string {
	return StagePrefix + "*"
}
