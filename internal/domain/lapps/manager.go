package lapps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/providers/filesystem"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/providers/storage"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/shared/types"
	"go.uber.org/zap"
)

// Lifecycle transitions reported to the Observer
const (
	TransitionInstall     = "install"
	TransitionEnable      = "enable"
	TransitionDisable     = "disable"
	TransitionLoad        = "load"
	TransitionUnload      = "unload"
	TransitionReload      = "reload"
	TransitionRemove      = "remove"
	TransitionGossipStart = "gossip_start"
	TransitionGossipStop  = "gossip_stop"
	TransitionRecover     = "recover"
)

// Observer receives lifecycle events, typically for metrics
type Observer interface {
	ObserveTransition(lapp, transition string)
	SetLoaded(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(string, string) {}
func (nopObserver) SetLoaded(int)                    {}

// Config locates lapps on disk and bounds their resources
type Config struct {
	// LappsDir holds one installation directory per lapp
	LappsDir string
	// DataDir holds one storage directory per lapp
	DataDir string
	// StorageTimeout bounds one database call
	StorageTimeout time.Duration
	// MaxPackageBytes caps the unpacked size of an installed package
	MaxPackageBytes int64
	// MaxFileBytes caps one sandboxed file read or write
	MaxFileBytes int64
}

// entry is the registry record of one lapp. Live fields are set only
// while the lapp is loaded.
type entry struct {
	name        string
	dir         string
	format      manifestFormat
	manifest    types.Manifest
	perms       permissions.Set
	digest      string
	enabled     bool
	sizeBytes   int64
	installedAt time.Time

	instance *runtime.Instance
	store    *storage.Store
	files    *filesystem.Sandbox
	gossip   bool
	loadedAt time.Time
}

func (e *entry) state() types.State {
	switch {
	case e.instance != nil:
		return types.StateLoaded
	case e.enabled:
		return types.StateEnabled
	default:
		return types.StateInstalled
	}
}

func (e *entry) snapshot() types.Lapp {
	l := types.Lapp{
		Name:        e.name,
		Title:       e.manifest.Title,
		Description: e.manifest.Description,
		Version:     e.manifest.Version,
		Path:        e.dir,
		SizeBytes:   e.sizeBytes,
		Permissions: e.perms.Strings(),
		Digest:      e.digest,
		Enabled:     e.enabled,
		State:       e.state(),
		Gossip:      e.gossip,
		InstalledAt: e.installedAt,
	}
	if e.instance != nil {
		loadedAt := e.loadedAt
		l.LoadedAt = &loadedAt
		l.Poisoned = e.instance.Poisoned()
	}
	return l
}

func (e *entry) handle() *Handle {
	return &Handle{
		name:      e.name,
		dir:       e.dir,
		staticDir: e.manifest.StaticDir,
		index:     e.manifest.Index,
		perms:     e.perms,
		instance:  e.instance,
	}
}

// Manager owns the lapp registry and every live instance, storage handle
// and gossip subscription. Lookups share a read lock; transitions take the
// exclusive lock. A panic inside a transition leaves the manager broken
// until Recover.
type Manager struct {
	cfg      Config
	engine   *runtime.Engine
	gossip   *gossip.Service
	fetcher  runtime.Fetcher
	logger   *zap.Logger
	observer Observer

	mu     sync.RWMutex
	lapps  map[string]*entry // Protected by mu
	broken atomic.Bool

	// beforeMutate runs inside every exclusive section; tests use it to
	// fail a transition midway
	beforeMutate func(op string)
}

// NewManager creates a manager. gossipSvc and fetcher may be nil, in which
// case the capabilities they back are unavailable to lapps.
func NewManager(cfg Config, engine *runtime.Engine, gossipSvc *gossip.Service, fetcher runtime.Fetcher, logger *zap.Logger) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("lapps manager requires a runtime engine")
	}
	if cfg.LappsDir == "" || cfg.DataDir == "" {
		return nil, errors.New("lapps manager requires lapps and data directories")
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = storage.DefaultTimeout
	}
	if cfg.MaxPackageBytes <= 0 {
		cfg.MaxPackageBytes = DefaultMaxPackageBytes
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = filesystem.DefaultMaxFileBytes
	}
	for _, dir := range []string{cfg.LappsDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:      cfg,
		engine:   engine,
		gossip:   gossipSvc,
		fetcher:  fetcher,
		logger:   logger.Named("lapps"),
		observer: nopObserver{},
		lapps:    make(map[string]*entry),
	}
	if gossipSvc != nil {
		gossipSvc.SetResolver(m)
	}
	return m, nil
}

// WithObserver adds lifecycle tracking to the manager
func (m *Manager) WithObserver(observer Observer) *Manager {
	if observer != nil {
		m.observer = observer
	}
	return m
}

// mutate runs fn under the exclusive lock. A panic in fn marks the manager
// broken; the lock itself is always released.
func (m *Manager) mutate(op, lapp string, fn func() error) (err error) {
	if m.broken.Load() {
		return newError(KindLockUnusable, lapp, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken.Load() {
		return newError(KindLockUnusable, lapp, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			m.broken.Store(true)
			m.logger.Error("Lapps transition panicked, manager needs recovery",
				zap.String("op", op),
				zap.String("lapp", lapp),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = newError(KindLockUnusable, lapp, fmt.Errorf("%s: %v", op, r))
		}
	}()

	if m.beforeMutate != nil {
		m.beforeMutate(op)
	}
	return fn()
}

// read runs fn under the shared lock
func (m *Manager) read(lapp string, fn func() error) error {
	if m.broken.Load() {
		return newError(KindLockUnusable, lapp, nil)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

// lookup finds a registry entry. Caller holds mu.
func (m *Manager) lookup(name string) (*entry, error) {
	e, ok := m.lapps[name]
	if !ok {
		return nil, newError(KindNotFound, name, nil)
	}
	return e, nil
}

// live finds a loaded entry, checking enabled before loaded. Caller holds mu.
func (m *Manager) live(name string) (*entry, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	if !e.enabled {
		return nil, newError(KindNotEnabled, name, nil)
	}
	if e.instance == nil {
		return nil, newError(KindNotLoaded, name, nil)
	}
	return e, nil
}

// Resolve returns a handle to name's live instance. A poisoned instance is
// replaced by a fresh one before the handle is returned.
func (m *Manager) Resolve(name string) (*Handle, error) {
	var (
		h        *Handle
		poisoned bool
	)
	err := m.read(name, func() error {
		e, err := m.live(name)
		if err != nil {
			return err
		}
		h = e.handle()
		poisoned = e.instance.Poisoned()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !poisoned {
		return h, nil
	}
	return m.reload(context.Background(), name)
}

// ResolveInvoker adapts Resolve for the gossip service
func (m *Manager) ResolveInvoker(name string) (gossip.Invoker, error) {
	h, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// reload replaces a poisoned instance, keeping storage contents and the
// gossip subscription
func (m *Manager) reload(ctx context.Context, name string) (*Handle, error) {
	var h *Handle
	err := m.mutate(TransitionReload, name, func() error {
		e, err := m.live(name)
		if err != nil {
			return err
		}
		// Another caller may have reloaded it already
		if !e.instance.Poisoned() {
			h = e.handle()
			return nil
		}

		rejoin := e.gossip
		if err := m.teardown(ctx, e); err != nil {
			m.logger.Warn("Teardown of poisoned instance reported errors",
				zap.String("lapp", name), zap.Error(err))
		}
		err := m.start(ctx, e, rejoin)
		m.observer.SetLoaded(m.loadedCount())
		if err != nil {
			return err
		}

		m.logger.Info("Reloaded poisoned lapp", zap.String("lapp", name))
		m.observer.ObserveTransition(name, TransitionReload)
		h = e.handle()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Assets locates the static files of an enabled lapp. Static files are
// served without touching the instance, so the lapp need not be loaded.
func (m *Manager) Assets(name string) (Assets, error) {
	var assets Assets
	err := m.read(name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if !e.enabled {
			return newError(KindNotEnabled, name, nil)
		}
		assets = newAssets(e.name, e.dir, e.manifest.StaticDir, e.manifest.Index)
		return nil
	})
	return assets, err
}

// Get returns a snapshot of one lapp
func (m *Manager) Get(name string) (types.Lapp, error) {
	var l types.Lapp
	err := m.read(name, func() error {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		l = e.snapshot()
		return nil
	})
	return l, err
}

// List returns snapshots of every lapp sorted by name
func (m *Manager) List() ([]types.Lapp, error) {
	var lapps []types.Lapp
	err := m.read("", func() error {
		lapps = make([]types.Lapp, 0, len(m.lapps))
		for _, e := range m.lapps {
			lapps = append(lapps, e.snapshot())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(lapps, func(i, j int) bool {
		return lapps[i].Name < lapps[j].Name
	})
	return lapps, nil
}

// Stats returns manager counters. It answers even while broken.
func (m *Manager) Stats() types.Stats {
	stats := types.Stats{Broken: m.broken.Load()}
	if stats.Broken {
		return stats
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.lapps {
		stats.Installed++
		if e.enabled {
			stats.Enabled++
		}
		if e.instance != nil {
			stats.Loaded++
		}
		if e.gossip {
			stats.Gossiping++
		}
	}
	return stats
}

// loadedCount counts live instances. Caller holds mu.
func (m *Manager) loadedCount() int {
	n := 0
	for _, e := range m.lapps {
		if e.instance != nil {
			n++
		}
	}
	return n
}

// Recover rebuilds the registry from disk after a failed transition. Every
// live instance, subscription and storage handle is torn down first; no
// lapp is loaded afterwards.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	m.mu.Lock()
	for name, e := range m.lapps {
		m.teardownSafe(ctx, e)
		delete(m.lapps, name)
	}
	m.observer.SetLoaded(0)
	m.broken.Store(false)
	m.mu.Unlock()

	m.logger.Warn("Lapps manager recovered, rebuilding registry from disk")
	m.observer.ObserveTransition("", TransitionRecover)
	return m.Bootstrap(ctx)
}

// teardownSafe is teardown for state a panic may have left inconsistent
func (m *Manager) teardownSafe(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Teardown panicked during recovery",
				zap.String("lapp", e.name), zap.Any("panic", r))
		}
	}()
	if err := m.teardown(ctx, e); err != nil {
		m.logger.Warn("Teardown reported errors during recovery",
			zap.String("lapp", e.name), zap.Error(err))
	}
}

// Close unloads every lapp. The manager stays usable for lookups.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.lapps {
		if e.instance == nil {
			continue
		}
		if err := m.teardown(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", e.name, err))
		}
	}
	m.observer.SetLoaded(0)
	return errors.Join(errs...)
}
