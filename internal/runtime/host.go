package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GriffinCanCode/laplace/internal/providers/filesystem"
	"github.com/GriffinCanCode/laplace/internal/providers/http/client"
	"github.com/GriffinCanCode/laplace/internal/providers/permissions"
	"github.com/GriffinCanCode/laplace/internal/providers/storage"
	"github.com/bytedance/sonic"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModule is the import namespace of host functions
const HostModule = "lapp"

// DefaultHostTimeout bounds one privileged host call
const DefaultHostTimeout = 10 * time.Second

var (
	ErrUnavailable         = errors.New("capability unavailable")
	ErrUnknownHostFunction = errors.New("unknown host function")
)

// hostJSON decodes integers as int64 so they reach SQLite as INTEGER
var hostJSON = sonic.Config{UseInt64: true}.Froze()

// Database is the Lapp Storage seen by host functions
type Database interface {
	Execute(ctx context.Context, query string, args ...interface{}) (storage.Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (*storage.Rows, error)
}

// Files is the lapp's file sandbox
type Files interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte, appendData bool) error
	List(ctx context.Context, pattern string) ([]filesystem.Entry, error)
}

// Fetcher performs outbound HTTP
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Response, error)
}

// Publisher sends a gossip message on the lapp's topic
type Publisher interface {
	Publish(ctx context.Context, lapp string, data []byte) error
}

// Backends are the privileged services a lapp may reach. Nil members
// answer with ErrUnavailable after the permission check.
type Backends struct {
	Database Database
	Files    Files
	Fetcher  Fetcher
	Gossip   Publisher
}

type hostReply struct {
	OK     bool        `json:"ok"`
	Denied bool        `json:"denied,omitempty"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type hostFunc struct {
	perm permissions.Permission // empty when ungated
	call func(ctx context.Context, payload []byte) (interface{}, error)
}

// Host serves the lapp host module for one instance. Every function is
// reached through Call, which consults the Permission Gate first.
type Host struct {
	gate     *permissions.Gate
	backends Backends
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer
	funcs    map[string]hostFunc
}

// NewHost creates the host function table for gate's lapp
func NewHost(gate *permissions.Gate, backends Backends, timeout time.Duration, logger *zap.Logger, observer Observer) *Host {
	if timeout <= 0 {
		timeout = DefaultHostTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	h := &Host{
		gate:     gate,
		backends: backends,
		timeout:  timeout,
		logger:   logger,
		observer: observer,
	}
	h.funcs = map[string]hostFunc{
		"log":            {call: h.log},
		"db_execute":     {perm: permissions.Database, call: h.dbExecute},
		"db_query":       {perm: permissions.Database, call: h.dbQuery},
		"http_fetch":     {perm: permissions.Network, call: h.httpFetch},
		"fs_read":        {perm: permissions.FileRead, call: h.fsRead},
		"fs_list":        {perm: permissions.FileRead, call: h.fsList},
		"fs_write":       {perm: permissions.FileWrite, call: h.fsWrite},
		"gossip_publish": {perm: permissions.PeerMessaging, call: h.gossipPublish},
	}
	return h
}

// Functions lists the exported host function names
func (h *Host) Functions() []string {
	names := make([]string, 0, len(h.funcs))
	for name := range h.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs host function name with a JSON payload and returns the JSON
// reply handed back to the guest. Denials and failures are replies, never
// Go errors, so the guest keeps running.
func (h *Host) Call(ctx context.Context, name string, payload []byte) []byte {
	fn, ok := h.funcs[name]
	if !ok {
		return encodeReply(hostReply{Error: fmt.Sprintf("%v: %s", ErrUnknownHostFunction, name)})
	}

	if fn.perm != "" {
		if err := h.gate.Check(fn.perm); err != nil {
			h.observer.ObserveDenied(h.gate.Lapp(), fn.perm)
			h.logger.Debug("Host call denied",
				zap.String("function", name),
				zap.String("permission", string(fn.perm)))
			return encodeReply(hostReply{Denied: true, Error: err.Error()})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := fn.call(ctx, payload)
	if err != nil {
		return encodeReply(hostReply{Error: err.Error()})
	}
	return encodeReply(hostReply{OK: true, Result: result})
}

func encodeReply(r hostReply) []byte {
	data, err := sonic.Marshal(r)
	if err != nil {
		return []byte(`{"ok":false,"error":"failed to encode host reply"}`)
	}
	return data
}

func decode(payload []byte, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty host call payload")
	}
	if err := hostJSON.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid host call payload: %w", err)
	}
	return nil
}

type logArgs struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (h *Host) log(_ context.Context, payload []byte) (interface{}, error) {
	var args logArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}

	switch strings.ToLower(args.Level) {
	case "debug", "trace":
		h.logger.Debug(args.Message)
	case "warn", "warning":
		h.logger.Warn(args.Message)
	case "error":
		h.logger.Error(args.Message)
	default:
		h.logger.Info(args.Message)
	}
	return nil, nil
}

type dbArgs struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

func (h *Host) dbExecute(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Database == nil {
		return nil, ErrUnavailable
	}
	var args dbArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	return h.backends.Database.Execute(ctx, args.SQL, args.Args...)
}

func (h *Host) dbQuery(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Database == nil {
		return nil, ErrUnavailable
	}
	var args dbArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	return h.backends.Database.Query(ctx, args.SQL, args.Args...)
}

func (h *Host) httpFetch(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Fetcher == nil {
		return nil, ErrUnavailable
	}
	var req client.Request
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return h.backends.Fetcher.Fetch(ctx, req)
}

type fsArgs struct {
	Path    string `json:"path"`
	Data    string `json:"data"`
	Append  bool   `json:"append"`
	Pattern string `json:"pattern"`
}

type fsReadResult struct {
	Data string `json:"data"`
}

func (h *Host) fsRead(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Files == nil {
		return nil, ErrUnavailable
	}
	var args fsArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	data, err := h.backends.Files.Read(ctx, args.Path)
	if err != nil {
		return nil, err
	}
	return fsReadResult{Data: string(data)}, nil
}

func (h *Host) fsList(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Files == nil {
		return nil, ErrUnavailable
	}
	var args fsArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	return h.backends.Files.List(ctx, args.Pattern)
}

func (h *Host) fsWrite(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Files == nil {
		return nil, ErrUnavailable
	}
	var args fsArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	return nil, h.backends.Files.Write(ctx, args.Path, []byte(args.Data), args.Append)
}

type gossipArgs struct {
	Data string `json:"data"`
}

func (h *Host) gossipPublish(ctx context.Context, payload []byte) (interface{}, error) {
	if h.backends.Gossip == nil {
		return nil, ErrUnavailable
	}
	var args gossipArgs
	if err := decode(payload, &args); err != nil {
		return nil, err
	}
	return nil, h.backends.Gossip.Publish(ctx, h.gate.Lapp(), []byte(args.Data))
}

// instantiate registers the host module in r. Each function has the
// (ptr, len) -> i64 shape of guest handlers.
func (h *Host) instantiate(ctx context.Context, r wazero.Runtime) error {
	builder := r.NewHostModuleBuilder(HostModule)
	for _, name := range h.Functions() {
		name := name
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				stack[0] = h.serve(ctx, mod, name, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
			WithParameterNames("ptr", "len").
			Export(name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}

// serve copies the argument out of guest memory, dispatches and writes the
// framed reply back through the guest allocator. A reply that cannot be
// written panics, which wazero surfaces as a trap of the calling export.
func (h *Host) serve(ctx context.Context, mod api.Module, name string, ptr, length uint32) uint64 {
	var reply []byte
	if buf, ok := mod.Memory().Read(ptr, length); ok {
		payload := make([]byte, len(buf))
		copy(payload, buf)
		reply = h.Call(ctx, name, payload)
	} else {
		reply = encodeReply(hostReply{Error: "host call argument outside of memory"})
	}

	framed := frame(reply)
	out, err := writeGuest(ctx, mod, framed)
	if err != nil {
		panic(fmt.Errorf("host function %s: %w", name, err))
	}
	return packPtrLen(out, uint32(len(framed)))
}
