package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

var handlerParams = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
var handlerResults = []api.ValueType{api.ValueTypeI64}

// Instance is one live lapp module. Invoke is serialized per instance;
// instances of different lapps run in parallel.
type Instance struct {
	lapp     string
	runtime  wazero.Runtime
	module   api.Module
	alloc    api.Function
	dealloc  api.Function
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer
	closers  []func() error

	mu       sync.Mutex
	closed   bool
	poisoned atomic.Bool
}

// Lapp returns the owning lapp name
func (i *Instance) Lapp() string {
	return i.lapp
}

// Poisoned reports whether the module is unusable and must be reloaded
func (i *Instance) Poisoned() bool {
	return i.poisoned.Load()
}

// Poison marks the instance unusable
func (i *Instance) Poison() {
	if !i.poisoned.Swap(true) {
		i.logger.Warn("Instance poisoned")
	}
}

// HasExport reports whether the module exports a handler named export
func (i *Instance) HasExport(export string) bool {
	fn := i.module.ExportedFunction(export)
	return fn != nil && signature(fn.Definition(), handlerParams, handlerResults)
}

// Invoke calls handler export with args and returns its result payload
func (i *Instance) Invoke(ctx context.Context, export string, args []byte) ([]byte, error) {
	start := time.Now()
	out, err := i.invoke(ctx, export, args)
	i.observer.ObserveInvoke(i.lapp, export, time.Since(start), err)
	return out, err
}

func (i *Instance) invoke(ctx context.Context, export string, args []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.poisoned.Load() {
		return nil, ErrPoisoned
	}

	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrExportNotFound, export)
	}
	if !signature(fn.Definition(), handlerParams, handlerResults) {
		return nil, fmt.Errorf("%w: %q is not a (ptr, len) -> i64 handler", ErrExportNotFound, export)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	ptr, err := writeGuest(ctx, i.module, args)
	if err != nil {
		return nil, i.fault(export, err)
	}

	res, err := fn.Call(ctx, uint64(ptr), uint64(len(args)))
	if err != nil {
		return nil, i.fault(export, err)
	}

	out, err := readResult(i.module.Memory(), res[0])
	if err != nil {
		i.release(ctx, packPtrLen(ptr, uint32(len(args))))
		return nil, err
	}
	i.release(ctx, packPtrLen(ptr, uint32(len(args))), res[0])
	return out, nil
}

// release hands buffers back to the guest when it exports dealloc
func (i *Instance) release(ctx context.Context, regions ...uint64) {
	if i.dealloc == nil {
		return
	}
	for _, region := range regions {
		ptr, length := unpackPtrLen(region)
		if _, err := i.dealloc.Call(ctx, uint64(ptr), uint64(length)); err != nil {
			i.logger.Warn("Guest dealloc failed", zap.Error(i.fault(ExportDealloc, err)))
			return
		}
	}
}

// fault classifies an error raised while guest code ran. The instance is
// poisoned when wazero closed the module: guest exit, or the execution
// budget ran out.
func (i *Instance) fault(export string, err error) error {
	if errors.Is(err, ErrResultMalformed) || errors.Is(err, ErrInvalidModule) {
		return err
	}

	var exitErr *sys.ExitError
	poisoned := errors.As(err, &exitErr) || i.module.IsClosed()
	if poisoned {
		i.Poison()
	}

	i.logger.Debug("Guest trapped", zap.String("export", export), zap.Bool("poisoned", poisoned), zap.Error(err))
	return &TrapError{Export: export, Poisoned: poisoned, Err: err}
}

func (i *Instance) runInit(ctx context.Context) error {
	fn := i.module.ExportedFunction(ExportInit)
	if fn == nil {
		return nil
	}

	def := fn.Definition()
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) > 1 {
		return fmt.Errorf("%w: %q must take no arguments", ErrInitFailed, ExportInit)
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	res, err := fn.Call(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	if len(res) == 1 && api.DecodeI32(res[0]) != 0 {
		return fmt.Errorf("%w: init returned %d", ErrInitFailed, api.DecodeI32(res[0]))
	}
	return nil
}

// Close tears the module down. It waits for an in-flight invoke.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	err := i.runtime.Close(ctx)
	for _, c := range i.closers {
		_ = c()
	}
	if err != nil {
		return fmt.Errorf("failed to close instance: %w", err)
	}
	i.logger.Debug("Instance closed")
	return nil
}
