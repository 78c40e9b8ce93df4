package lapps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/laplace/internal/gossip"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/runtime"
	"github.com/GriffinCanCode/laplace/internal/runtime/wasmtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// invokeRecorder counts invokes per export
type invokeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
	p2p    chan struct{}
}

func newInvokeRecorder() *invokeRecorder {
	return &invokeRecorder{counts: map[string]int{}, p2p: make(chan struct{}, 16)}
}

func (r *invokeRecorder) ObserveInvoke(lapp, export string, _ time.Duration, _ error) {
	r.mu.Lock()
	r.counts[lapp+"/"+export]++
	r.mu.Unlock()
	if export == runtime.P2PHandler {
		r.p2p <- struct{}{}
	}
}

func (r *invokeRecorder) ObserveDenied(string, permissions.Permission) {}

func (r *invokeRecorder) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// transitionRecorder records lifecycle events
type transitionRecorder struct {
	mu          sync.Mutex
	transitions []string
	loaded      int
}

func (r *transitionRecorder) ObserveTransition(lapp, transition string) {
	r.mu.Lock()
	r.transitions = append(r.transitions, lapp+":"+transition)
	r.mu.Unlock()
}

func (r *transitionRecorder) SetLoaded(n int) {
	r.mu.Lock()
	r.loaded = n
	r.mu.Unlock()
}

func (r *transitionRecorder) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *transitionRecorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

type fixture struct {
	*Manager
	cfg         Config
	src         string
	transport   *gossip.MemoryTransport
	gossip      *gossip.Service
	invokes     *invokeRecorder
	transitions *transitionRecorder
}

func newFixture(t *testing.T, runtimeCfg runtime.Config) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	invokes := newInvokeRecorder()
	engine := runtime.NewEngine(runtimeCfg, logger, invokes)
	t.Cleanup(func() { engine.Close(context.Background()) })

	transport := gossip.NewMemoryTransport()
	svc := gossip.NewService(transport, gossip.Config{
		PeerID:          "local",
		Timeout:         time.Second,
		DeliveryTimeout: time.Second,
	}, logger, nil)
	t.Cleanup(func() { svc.Close() })

	cfg := Config{LappsDir: t.TempDir(), DataDir: t.TempDir()}
	m, err := NewManager(cfg, engine, svc, nil, logger)
	require.NoError(t, err)

	transitions := &transitionRecorder{}
	m.WithObserver(transitions)
	t.Cleanup(func() { m.Close(context.Background()) })

	return &fixture{
		Manager:     m,
		cfg:         cfg,
		src:         t.TempDir(),
		transport:   transport,
		gossip:      svc,
		invokes:     invokes,
		transitions: transitions,
	}
}

// install installs a fixture lapp from an unpacked directory
func (f *fixture) install(t *testing.T, name string, perms []string, extra ...string) {
	t.Helper()
	dir := wasmtest.WriteLapp(t, f.src, name, perms, extra...)
	got, err := f.InstallDir(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, name, got)
}

// installLoaded installs, enables and loads a fixture lapp
func (f *fixture) installLoaded(t *testing.T, name string, perms []string, extra ...string) {
	t.Helper()
	f.install(t, name, perms, extra...)
	require.NoError(t, f.Enable(name))
	require.NoError(t, f.Load(context.Background(), name))
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error: %v", err)
}
