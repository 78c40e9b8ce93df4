package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, cfg Config, observer Observer) *Engine {
	t.Helper()
	engine := NewEngine(cfg, zaptest.NewLogger(t), observer)
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine
}

func instantiate(t *testing.T, engine *Engine, lapp string, set permissions.Set, backends Backends) *Instance {
	t.Helper()
	inst, err := engine.Instantiate(context.Background(), Spec{
		Lapp:        lapp,
		Wasm:        wasmtest.Lapp,
		Permissions: set,
		Backends:    backends,
	})
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close(context.Background()) })
	return inst
}

func TestInvokeEcho(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})

	out, err := inst.Invoke(context.Background(), "echo", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out, err = inst.Invoke(context.Background(), P2PHandler, []byte{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestInvokeHTTPHandler(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})

	req, err := EncodeHTTPRequest(HTTPRequest{Method: "GET", Path: "/"})
	require.NoError(t, err)
	out, err := inst.Invoke(context.Background(), HTTPHandler, req)
	require.NoError(t, err)

	resp, err := DecodeHTTPResponse(out)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, wasmtest.HTTPBody, resp.Body)
	assert.Equal(t, "text/plain", resp.Headers["content-type"])
}

func TestInvokeExportNotFoundKeepsInstanceHealthy(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})

	_, err := inst.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrExportNotFound)
	assert.False(t, inst.Poisoned())

	// alloc exists but is not a handler
	_, err = inst.Invoke(context.Background(), ExportAlloc, nil)
	assert.ErrorIs(t, err, ErrExportNotFound)
	assert.False(t, inst.Poisoned())
	assert.False(t, inst.HasExport(ExportAlloc))
	assert.True(t, inst.HasExport(HTTPHandler))
}

func TestInvokeTrapIsRecoverable(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})

	_, err := inst.Invoke(context.Background(), "boom", []byte("x"))
	require.ErrorIs(t, err, ErrTrap)

	var trap *TrapError
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, "boom", trap.Export)
	assert.False(t, trap.Poisoned)
	assert.False(t, inst.Poisoned())

	out, err := inst.Invoke(context.Background(), "echo", []byte("still alive"))
	require.NoError(t, err)
	assert.Equal(t, "still alive", string(out))
}

func TestInvokeMalformedResult(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})

	for _, export := range []string{"bad", "short"} {
		t.Run(export, func(t *testing.T) {
			_, err := inst.Invoke(context.Background(), export, []byte("x"))
			assert.ErrorIs(t, err, ErrResultMalformed)
			assert.False(t, inst.Poisoned())
		})
	}
}

func TestInvokeBudgetPoisons(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InvokeTimeout = 50 * time.Millisecond
	inst := instantiate(t, newTestEngine(t, cfg, nil), "echo", permissions.NewSet(), Backends{})

	_, err := inst.Invoke(context.Background(), "spin", nil)
	require.ErrorIs(t, err, ErrTrap)
	assert.True(t, inst.Poisoned())

	_, err = inst.Invoke(context.Background(), "echo", []byte("x"))
	assert.ErrorIs(t, err, ErrPoisoned)
}

func TestInvokeAfterClose(t *testing.T) {
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(), Backends{})
	require.NoError(t, inst.Close(context.Background()))
	require.NoError(t, inst.Close(context.Background()))

	_, err := inst.Invoke(context.Background(), "echo", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInstantiateRejectsBadModules(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	tests := []struct {
		name     string
		wasm     []byte
		expected error
	}{
		{"not wasm", []byte("definitely not wasm"), ErrInvalidModule},
		{"no memory", wasmtest.NoMemory, ErrInvalidModule},
		{"init traps", wasmtest.BadInit, ErrInitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Instantiate(context.Background(), Spec{Lapp: "broken", Wasm: tt.wasm})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestGuestHostCallDenied(t *testing.T) {
	backends := &recordingBackends{}
	observer := &recordingObserver{}
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), observer), "echo", permissions.NewSet(), backends.Backends())

	out, err := inst.Invoke(context.Background(), "call_gossip_publish", []byte(`{"data":"hi"}`))
	require.NoError(t, err, "a denial is a reply, not a trap")

	reply := parseReply(t, out)
	assert.True(t, reply.Denied)
	assert.Empty(t, backends.Calls())
	assert.Equal(t, []permissions.Permission{permissions.PeerMessaging}, observer.Denied())
	assert.False(t, inst.Poisoned())
}

func TestGuestHostCallGranted(t *testing.T) {
	backends := &recordingBackends{}
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(permissions.PeerMessaging), backends.Backends())

	out, err := inst.Invoke(context.Background(), "call_gossip_publish", []byte(`{"data":"hi"}`))
	require.NoError(t, err)
	assert.True(t, parseReply(t, out).OK)
	assert.Equal(t, []string{"hi"}, backends.published)

	out, err = inst.Invoke(context.Background(), "call_log", []byte(`{"message":"from guest"}`))
	require.NoError(t, err)
	assert.True(t, parseReply(t, out).OK)
}

func TestInvokeSerializedPerInstance(t *testing.T) {
	var active, maxActive int32
	backends := &recordingBackends{onExecute: func(context.Context) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}}
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), nil), "echo", permissions.NewSet(permissions.Database), backends.Backends())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := inst.Invoke(context.Background(), "call_db_execute", []byte(`{"sql":"SELECT 1"}`))
			assert.NoError(t, err)
			assert.Contains(t, string(out), `"ok":true`)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.Len(t, backends.Calls(), 16)
}

func TestInvokeParallelAcrossLapps(t *testing.T) {
	aEntered := make(chan struct{})
	bEntered := make(chan struct{})
	rendezvous := func(mine, theirs chan struct{}) func(context.Context) {
		return func(ctx context.Context) {
			close(mine)
			select {
			case <-theirs:
			case <-time.After(5 * time.Second):
				t.Error("other lapp never entered; lapps are blocking each other")
			}
		}
	}

	engine := newTestEngine(t, DefaultConfig(), nil)
	a := instantiate(t, engine, "a", permissions.NewSet(permissions.Database), (&recordingBackends{onExecute: rendezvous(aEntered, bEntered)}).Backends())
	b := instantiate(t, engine, "b", permissions.NewSet(permissions.Database), (&recordingBackends{onExecute: rendezvous(bEntered, aEntered)}).Backends())

	var wg sync.WaitGroup
	for _, inst := range []*Instance{a, b} {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			_, err := inst.Invoke(context.Background(), "call_db_execute", []byte(`{"sql":"SELECT 1"}`))
			assert.NoError(t, err)
		}(inst)
	}
	wg.Wait()
}

func TestObserverSeesInvokes(t *testing.T) {
	observer := &recordingObserver{}
	inst := instantiate(t, newTestEngine(t, DefaultConfig(), observer), "echo", permissions.NewSet(), Backends{})

	_, _ = inst.Invoke(context.Background(), "echo", []byte("x"))
	_, _ = inst.Invoke(context.Background(), "missing", nil)

	events := observer.Invokes()
	require.Len(t, events, 2)
	assert.Equal(t, "echo", events[0].export)
	assert.NoError(t, events[0].err)
	assert.ErrorIs(t, events[1].err, ErrExportNotFound)
}
