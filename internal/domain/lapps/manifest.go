package lapps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/GriffinCanCode/laplace/internal/shared/types"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

type manifestFormat string

const (
	formatTOML manifestFormat = "lapp.toml"
	formatYAML manifestFormat = "lapp.yaml"
	formatYML  manifestFormat = "lapp.yml"
)

var manifestFiles = []manifestFormat{formatTOML, formatYAML, formatYML}

var errNoManifest = errors.New("no lapp.toml or lapp.yaml found")

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ReservedNames cannot be used by lapps; they collide with host routes
var ReservedNames = map[string]bool{
	"laplace": true,
	"health":  true,
	"metrics": true,
}

// ValidateName reports whether name is usable as a lapp name
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("lapp name %q must match %s", name, namePattern)
	}
	if ReservedNames[name] {
		return fmt.Errorf("lapp name %q is reserved", name)
	}
	return nil
}

// readManifest loads the manifest of an installation directory
func readManifest(dir string) (types.Manifest, manifestFormat, error) {
	for _, format := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(dir, string(format)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return types.Manifest{}, "", err
		}

		var m types.Manifest
		if format == formatTOML {
			err = toml.Unmarshal(data, &m)
		} else {
			err = yaml.Unmarshal(data, &m)
		}
		if err != nil {
			return types.Manifest{}, "", fmt.Errorf("parse %s: %w", format, err)
		}
		return m.WithDefaults(), format, nil
	}
	return types.Manifest{}, "", errNoManifest
}

// writeManifest persists m in its original format, replacing the file
// atomically
func writeManifest(dir string, m types.Manifest, format manifestFormat) error {
	var (
		data []byte
		err  error
	)
	if format == formatTOML {
		data, err = toml.Marshal(m)
	} else {
		data, err = yaml.Marshal(m)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}

	path := filepath.Join(dir, string(format))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}

// localPath rejects manifest paths that leave the installation directory
func localPath(dir, rel string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("path %q leaves the lapp directory", rel)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}
