package runtime

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// Observer receives runtime events, typically for metrics
type Observer interface {
	ObserveInvoke(lapp, export string, elapsed time.Duration, err error)
	ObserveDenied(lapp string, perm permissions.Permission)
}

type nopObserver struct{}

func (nopObserver) ObserveInvoke(string, string, time.Duration, error) {}
func (nopObserver) ObserveDenied(string, permissions.Permission)       {}

// Config tunes every instance an Engine creates
type Config struct {
	// InvokeTimeout is the execution budget of one invoke; zero disables it
	InvokeTimeout time.Duration
	// MemoryLimitPages caps guest memory in 64KiB pages; zero keeps wazero's limit
	MemoryLimitPages uint32
	// HostTimeout bounds one privileged host call
	HostTimeout time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		InvokeTimeout:    30 * time.Second,
		MemoryLimitPages: 1024,
		HostTimeout:      DefaultHostTimeout,
	}
}

// Spec describes one lapp to instantiate
type Spec struct {
	Lapp        string
	Wasm        []byte
	Permissions permissions.Set
	Backends    Backends
}

// Engine creates Instances. Compiled code is shared between them through
// one compilation cache while each instance gets its own wazero runtime.
type Engine struct {
	cfg      Config
	cache    wazero.CompilationCache
	logger   *zap.Logger
	observer Observer
}

// NewEngine creates an engine
func NewEngine(cfg Config, logger *zap.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = DefaultHostTimeout
	}
	return &Engine{
		cfg:      cfg,
		cache:    wazero.NewCompilationCache(),
		logger:   logger.Named("runtime"),
		observer: observer,
	}
}

// Instantiate compiles and starts spec's module, runs its optional init
// export and returns the live Instance.
func (e *Engine) Instantiate(ctx context.Context, spec Spec) (*Instance, error) {
	rcfg := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)
	if e.cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rcfg)
	fail := func(err error) (*Instance, error) {
		_ = r.Close(ctx)
		return nil, err
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fail(fmt.Errorf("failed to instantiate wasi: %w", err))
	}

	lappLogger := e.logger.With(zap.String("lapp", spec.Lapp))
	host := NewHost(permissions.NewGate(spec.Lapp, spec.Permissions), spec.Backends, e.cfg.HostTimeout, lappLogger.Named("guest"), e.observer)
	if err := host.instantiate(ctx, r); err != nil {
		return fail(err)
	}

	compiled, err := r.CompileModule(ctx, spec.Wasm)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidModule, err))
	}
	if err := checkExports(compiled); err != nil {
		return fail(err)
	}

	stdout := &zapio.Writer{Log: lappLogger.Named("stdout"), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: lappLogger.Named("stderr"), Level: zapcore.WarnLevel}
	mcfg := wazero.NewModuleConfig().
		WithName(spec.Lapp).
		WithStartFunctions("_initialize").
		WithStdout(stdout).
		WithStderr(stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	mod, err := r.InstantiateModule(ctx, compiled, mcfg)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInitFailed, err))
	}

	inst := &Instance{
		lapp:     spec.Lapp,
		runtime:  r,
		module:   mod,
		alloc:    mod.ExportedFunction(ExportAlloc),
		dealloc:  mod.ExportedFunction(ExportDealloc),
		timeout:  e.cfg.InvokeTimeout,
		logger:   lappLogger,
		observer: e.observer,
		closers:  []func() error{stdout.Close, stderr.Close},
	}

	if err := inst.runInit(ctx); err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}

	lappLogger.Debug("Instance started", zap.Int("wasm_bytes", len(spec.Wasm)))
	return inst, nil
}

// Close releases the compilation cache. Instances must be closed first.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

func checkExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return fmt.Errorf("%w: missing %q export", ErrInvalidModule, ExportMemory)
	}

	funcs := compiled.ExportedFunctions()
	alloc, ok := funcs[ExportAlloc]
	if !ok {
		return fmt.Errorf("%w: missing %q export", ErrInvalidModule, ExportAlloc)
	}
	if !signature(alloc, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}) {
		return fmt.Errorf("%w: %q must be (i32) -> i32", ErrInvalidModule, ExportAlloc)
	}
	return nil
}

func signature(def api.FunctionDefinition, params, results []api.ValueType) bool {
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
