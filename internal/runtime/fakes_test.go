package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/filesystem"
	"github.com/GriffinCanCode/laplace/internal/providers/http/client"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/providers/storage"
)

// recordingBackends implements every backend and counts calls
type recordingBackends struct {
	mu        sync.Mutex
	calls     []string
	published []string
	lapps     []string
	onExecute func(ctx context.Context)
}

func (r *recordingBackends) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingBackends) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingBackends) Execute(ctx context.Context, query string, args ...interface{}) (storage.Result, error) {
	r.record("execute")
	if r.onExecute != nil {
		r.onExecute(ctx)
	}
	return storage.Result{RowsAffected: 1}, nil
}

func (r *recordingBackends) Query(ctx context.Context, query string, args ...interface{}) (*storage.Rows, error) {
	r.record("query")
	return &storage.Rows{Columns: []string{"n"}, Values: [][]interface{}{{int64(1)}}}, nil
}

func (r *recordingBackends) Read(ctx context.Context, name string) ([]byte, error) {
	r.record("read")
	return []byte("contents"), nil
}

func (r *recordingBackends) Write(ctx context.Context, name string, data []byte, appendData bool) error {
	r.record("write")
	return nil
}

func (r *recordingBackends) List(ctx context.Context, pattern string) ([]filesystem.Entry, error) {
	r.record("list")
	return []filesystem.Entry{{Path: "a.txt", Size: 1}}, nil
}

func (r *recordingBackends) Fetch(ctx context.Context, req client.Request) (*client.Response, error) {
	r.record("fetch")
	return &client.Response{Status: 200, Body: "fetched"}, nil
}

func (r *recordingBackends) Publish(ctx context.Context, lapp string, data []byte) error {
	r.record("publish")
	r.mu.Lock()
	r.published = append(r.published, string(data))
	r.lapps = append(r.lapps, lapp)
	r.mu.Unlock()
	return nil
}

func (r *recordingBackends) Backends() Backends {
	return Backends{Database: r, Files: r, Fetcher: r, Gossip: r}
}

type invokeEvent struct {
	lapp   string
	export string
	err    error
}

// recordingObserver keeps every event it sees
type recordingObserver struct {
	mu      sync.Mutex
	invokes []invokeEvent
	denied  []permissions.Permission
}

func (o *recordingObserver) ObserveInvoke(lapp, export string, _ time.Duration, err error) {
	o.mu.Lock()
	o.invokes = append(o.invokes, invokeEvent{lapp: lapp, export: export, err: err})
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveDenied(_ string, perm permissions.Permission) {
	o.mu.Lock()
	o.denied = append(o.denied, perm)
	o.mu.Unlock()
}

func (o *recordingObserver) Denied() []permissions.Permission {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]permissions.Permission(nil), o.denied...)
}

func (o *recordingObserver) Invokes() []invokeEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]invokeEvent(nil), o.invokes...)
}
