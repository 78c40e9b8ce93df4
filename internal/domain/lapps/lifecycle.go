package lapps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/providers/filesystem"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/providers/storage"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/shared/paths"
	"github.com/GriffinCanCode/laplace/internal/shared/types"
	"github.com/GriffinCanCode/laplace/internal/shared/utils"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Install unpacks a zip package and registers it disabled, whatever its
// manifest says. It returns the lapp name.
func (m *Manager) Install(ctx context.Context, archive io.ReaderAt, size int64) (string, error) {
	if m.broken.Load() {
		return "", newError(KindLockUnusable, "", nil)
	}

	stage, err := os.MkdirTemp(m.cfg.LappsDir, paths.StagePattern())
	if err != nil {
		return "", newError(KindInternal, "", err)
	}
	defer os.RemoveAll(stage)

	if err := extractZip(archive, size, stage, m.cfg.MaxPackageBytes); err != nil {
		return "", newError(KindInvalidPackage, "", err)
	}
	root, err := packageRoot(stage)
	if err != nil {
		return "", newError(KindInvalidPackage, "", err)
	}
	return m.register(root)
}

// InstallDir installs a copy of an unpacked lapp directory
func (m *Manager) InstallDir(ctx context.Context, dir string) (string, error) {
	if m.broken.Load() {
		return "", newError(KindLockUnusable, "", nil)
	}
	if _, _, err := readManifest(dir); err != nil {
		return "", newError(KindInvalidPackage, "", err)
	}

	stage, err := os.MkdirTemp(m.cfg.LappsDir, paths.StagePattern())
	if err != nil {
		return "", newError(KindInternal, "", err)
	}
	defer os.RemoveAll(stage)

	if err := copyDir(dir, stage); err != nil {
		return "", newError(KindInvalidPackage, "", err)
	}
	return m.register(stage)
}

// register moves a validated staging directory into place
func (m *Manager) register(root string) (string, error) {
	manifest, format, err := readManifest(root)
	if err != nil {
		return "", newError(KindInvalidPackage, "", err)
	}
	perms, digest, err := validatePackage(root, manifest)
	if err != nil {
		return "", newError(KindInvalidPackage, manifest.Name, err)
	}
	name := manifest.Name
	size := dirSize(root)

	err = m.mutate(TransitionInstall, name, func() error {
		dest := paths.Install(m.cfg.LappsDir, name)
		if _, ok := m.lapps[name]; ok {
			return newError(KindAlreadyExists, name, nil)
		}
		if _, err := os.Stat(dest); err == nil {
			return newError(KindAlreadyExists, name, errors.New("installation directory is present on disk"))
		}

		manifest.Enabled = false
		if err := writeManifest(root, manifest, format); err != nil {
			return newError(KindInternal, name, err)
		}
		if err := os.Rename(root, dest); err != nil {
			return newError(KindInternal, name, err)
		}

		m.lapps[name] = &entry{
			name:        name,
			dir:         dest,
			format:      format,
			manifest:    manifest,
			perms:       perms,
			digest:      digest,
			sizeBytes:   size,
			installedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.logger.Info("Installed lapp",
		zap.String("lapp", name),
		zap.Strings("permissions", perms.Strings()),
		zap.String("digest", digest),
		zap.Int64("size_bytes", size))
	m.observer.ObserveTransition(name, TransitionInstall)
	return name, nil
}

// validatePackage checks a manifest against its directory and returns the
// permission set and the digest of the wasm module
func validatePackage(dir string, manifest types.Manifest) (permissions.Set, string, error) {
	if err := ValidateName(manifest.Name); err != nil {
		return permissions.Set{}, "", err
	}
	perms, err := permissions.ParseSet(manifest.Permissions)
	if err != nil {
		return permissions.Set{}, "", err
	}

	wasm, err := localPath(dir, manifest.Wasm)
	if err != nil {
		return permissions.Set{}, "", err
	}
	info, err := os.Stat(wasm)
	if err != nil {
		return permissions.Set{}, "", fmt.Errorf("wasm module %s: %w", manifest.Wasm, err)
	}
	if !info.Mode().IsRegular() {
		return permissions.Set{}, "", fmt.Errorf("wasm module %s is not a regular file", manifest.Wasm)
	}

	for _, rel := range []string{manifest.StaticDir, manifest.Index} {
		if _, err := localPath(dir, rel); err != nil {
			return permissions.Set{}, "", err
		}
	}

	digest, err := utils.DefaultHasher().HashFile(wasm)
	if err != nil {
		return permissions.Set{}, "", fmt.Errorf("wasm module %s: %w", manifest.Wasm, err)
	}
	return perms, digest, nil
}

// Enable allows a lapp to be loaded
func (m *Manager) Enable(name string) error {
	return m.setEnabled(name, true)
}

// Disable forbids loading; a loaded lapp is unloaded in the same
// transition.
func (m *Manager) Disable(ctx context.Context, name string) error {
	var unloaded bool
	err := m.mutate(TransitionDisable, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if err := m.persistEnabled(e, false); err != nil {
			return err
		}
		if e.instance != nil {
			unloaded = true
			if err := m.teardown(ctx, e); err != nil {
				m.logger.Warn("Teardown on disable reported errors",
					zap.String("lapp", name), zap.Error(err))
			}
			m.observer.SetLoaded(m.loadedCount())
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Disabled lapp", zap.String("lapp", name), zap.Bool("unloaded", unloaded))
	if unloaded {
		m.observer.ObserveTransition(name, TransitionUnload)
	}
	m.observer.ObserveTransition(name, TransitionDisable)
	return nil
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	err := m.mutate(TransitionEnable, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		return m.persistEnabled(e, enabled)
	})
	if err != nil {
		return err
	}

	m.logger.Info("Enabled lapp", zap.String("lapp", name))
	m.observer.ObserveTransition(name, TransitionEnable)
	return nil
}

// persistEnabled writes the flag before changing memory so a failed write
// leaves both untouched. Caller holds mu.
func (m *Manager) persistEnabled(e *entry, enabled bool) error {
	if e.enabled == enabled {
		return nil
	}
	manifest := e.manifest
	manifest.Enabled = enabled
	if err := writeManifest(e.dir, manifest, e.format); err != nil {
		return newError(KindInternal, e.name, err)
	}
	e.manifest = manifest
	e.enabled = enabled
	return nil
}

// Load starts name's instance with its storage, joining gossip when the
// manifest asks for it.
func (m *Manager) Load(ctx context.Context, name string) error {
	err := m.mutate(TransitionLoad, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if !e.enabled {
			return newError(KindNotEnabled, name, nil)
		}
		if e.instance != nil {
			return newError(KindAlreadyLoaded, name, nil)
		}
		if err := m.start(ctx, e, e.manifest.GossipOnLoad); err != nil {
			return err
		}
		m.observer.SetLoaded(m.loadedCount())
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Loaded lapp", zap.String("lapp", name))
	m.observer.ObserveTransition(name, TransitionLoad)
	return nil
}

// start opens storage, instantiates and optionally joins gossip, rolling
// back everything on failure. Caller holds mu.
func (m *Manager) start(ctx context.Context, e *entry, joinGossip bool) error {
	wasmPath, err := localPath(e.dir, e.manifest.Wasm)
	if err != nil {
		return newError(KindInitFailed, e.name, err)
	}
	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return newError(KindInitFailed, e.name, err)
	}

	store, err := storage.Open(m.cfg.DataDir, e.name, m.cfg.StorageTimeout)
	if err != nil {
		return newError(KindInitFailed, e.name, err)
	}
	files, err := filesystem.Open(m.cfg.DataDir, e.name, m.cfg.MaxFileBytes)
	if err != nil {
		store.Close()
		return newError(KindInitFailed, e.name, err)
	}

	backends := runtime.Backends{
		Database: store,
		Files:    files,
		Fetcher:  m.fetcher,
	}
	if m.gossip != nil {
		backends.Gossip = m.gossip
	}

	inst, err := m.engine.Instantiate(ctx, runtime.Spec{
		Lapp:        e.name,
		Wasm:        wasm,
		Permissions: e.perms,
		Backends:    backends,
	})
	if err != nil {
		files.Close()
		store.Close()
		return newError(KindInitFailed, e.name, err)
	}

	joined := false
	if joinGossip && e.perms.Has(permissions.PeerMessaging) && m.gossip != nil {
		if err := m.gossip.Join(ctx, e.name); err != nil {
			inst.Close(ctx)
			files.Close()
			store.Close()
			return newError(KindTransport, e.name, err)
		}
		joined = true
	}

	e.instance = inst
	e.store = store
	e.files = files
	e.gossip = joined
	e.loadedAt = time.Now().UTC()
	return nil
}

// Unload stops name's instance. Storage contents survive.
func (m *Manager) Unload(ctx context.Context, name string) error {
	unloaded := false
	err := m.mutate(TransitionUnload, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if e.instance == nil {
			return newError(KindNotLoaded, name, nil)
		}
		err = m.teardown(ctx, e)
		unloaded = true
		m.observer.SetLoaded(m.loadedCount())
		if errors.Is(err, gossip.ErrTransport) {
			return newError(KindTransport, name, err)
		}
		if err != nil {
			m.logger.Warn("Teardown on unload reported errors",
				zap.String("lapp", name), zap.Error(err))
		}
		return nil
	})
	// A transport error on leave still leaves the lapp unloaded
	if unloaded {
		m.observer.ObserveTransition(name, TransitionUnload)
	}
	if err != nil {
		return err
	}

	m.logger.Info("Unloaded lapp", zap.String("lapp", name))
	return nil
}

// teardown closes the instance, then the gossip subscription, then
// storage. Every step runs even when an earlier one fails. Caller holds mu.
func (m *Manager) teardown(ctx context.Context, e *entry) error {
	var errs []error
	if e.instance != nil {
		if err := e.instance.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		e.instance = nil
	}
	if e.gossip {
		e.gossip = false
		if err := m.gossip.Leave(ctx, e.name); err != nil && !errors.Is(err, gossip.ErrNotSubscribed) {
			errs = append(errs, err)
		}
	}
	if e.files != nil {
		if err := e.files.Close(); err != nil {
			errs = append(errs, err)
		}
		e.files = nil
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
		e.store = nil
	}
	return errors.Join(errs...)
}

// Remove deletes an unloaded lapp with its installation and storage
func (m *Manager) Remove(ctx context.Context, name string) error {
	err := m.mutate(TransitionRemove, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if e.instance != nil {
			return newError(KindStillLoaded, name, nil)
		}
		if err := os.RemoveAll(e.dir); err != nil {
			return newError(KindInternal, name, err)
		}
		if err := storage.Remove(m.cfg.DataDir, name); err != nil {
			return newError(KindInternal, name, err)
		}
		delete(m.lapps, name)
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Removed lapp", zap.String("lapp", name))
	m.observer.ObserveTransition(name, TransitionRemove)
	return nil
}

// StartGossip subscribes a loaded lapp to its topic. The lapp must hold
// peer-messaging; starting twice is a no-op.
func (m *Manager) StartGossip(ctx context.Context, name string) error {
	started := false
	err := m.mutate(TransitionGossipStart, name, func() error {
		e, err := m.live(name)
		if err != nil {
			return err
		}
		if err := permissions.Check(name, e.perms, permissions.PeerMessaging); err != nil {
			return newError(KindPermissionDenied, name, err)
		}
		if m.gossip == nil {
			return newError(KindTransport, name, errors.New("gossip is not configured"))
		}
		if e.gossip {
			return nil
		}
		if err := m.gossip.Join(ctx, name); err != nil {
			return newError(KindTransport, name, err)
		}
		e.gossip = true
		started = true
		return nil
	})
	if err != nil {
		return err
	}

	if started {
		m.observer.ObserveTransition(name, TransitionGossipStart)
	}
	return nil
}

// StopGossip ends a lapp's subscription; the instance stays loaded
func (m *Manager) StopGossip(ctx context.Context, name string) error {
	err := m.mutate(TransitionGossipStop, name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if !e.gossip {
			return newError(KindNotSubscribed, name, nil)
		}
		e.gossip = false
		if err := m.gossip.Leave(ctx, name); err != nil && !errors.Is(err, gossip.ErrNotSubscribed) {
			return newError(KindTransport, name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.observer.ObserveTransition(name, TransitionGossipStop)
	return nil
}

// Bootstrap registers every lapp found under the lapps directory with its
// persisted enabled flag. Nothing is loaded. Directories whose manifest is
// invalid or names another lapp are skipped. It returns how many lapps
// were added.
func (m *Manager) Bootstrap(ctx context.Context) (int, error) {
	matches, err := doublestar.Glob(os.DirFS(m.cfg.LappsDir), "*/lapp.{toml,yaml,yml}")
	if err != nil {
		return 0, newError(KindInternal, "", err)
	}

	added := 0
	err = m.mutate("bootstrap", "", func() error {
		for _, match := range matches {
			dirName := path.Dir(match)
			if _, ok := m.lapps[dirName]; ok {
				continue
			}

			dir := paths.Install(m.cfg.LappsDir, dirName)
			e, err := scanEntry(dir, dirName)
			if err != nil {
				m.logger.Warn("Skipping lapp directory", zap.String("dir", dir), zap.Error(err))
				continue
			}
			m.lapps[e.name] = e
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("Bootstrapped lapps", zap.Int("added", added), zap.String("dir", m.cfg.LappsDir))
	return added, nil
}

func scanEntry(dir, dirName string) (*entry, error) {
	manifest, format, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest.Name != dirName {
		return nil, fmt.Errorf("manifest names lapp %q", manifest.Name)
	}
	perms, digest, err := validatePackage(dir, manifest)
	if err != nil {
		return nil, err
	}

	installedAt := time.Now().UTC()
	if info, err := os.Stat(dir); err == nil {
		installedAt = info.ModTime().UTC()
	}

	return &entry{
		name:        manifest.Name,
		dir:         dir,
		format:      format,
		manifest:    manifest,
		perms:       perms,
		digest:      digest,
		enabled:     manifest.Enabled,
		sizeBytes:   dirSize(dir),
		installedAt: installedAt,
	}, nil
}
