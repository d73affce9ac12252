package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rickgao/gpttools-desk/internal/api"
)

// Desk-side method names handled outside the RPC table.
const (
	MethodServiceStart = "service_start"
	MethodServiceStop  = "service_stop"
)

// RPC is the JSON-RPC transport used by the bridge.
type RPC interface {
	CallAt(ctx context.Context, addr, method string, params any) (json.RawMessage, error)
	SetAddr(addr string)
	Addr() string
}

// Launcher starts and stops the service process.
type Launcher interface {
	Start(ctx context.Context, addr string) error
	Stop(ctx context.Context) error
}

// LocalHandler serves a method without going through the service.
type LocalHandler func(ctx context.Context, params map[string]any) (json.RawMessage, error)

type route struct {
	rpc    string
	rename map[string]string // desk param name -> rpc param name
}

var routes = map[string]route{
	"service_initialize":          {rpc: "initialize"},
	"service_account_list":        {rpc: "account/list"},
	"service_account_delete":      {rpc: "account/delete"},
	"service_account_update":      {rpc: "account/update"},
	"service_usage_read":          {rpc: "account/usage/read"},
	"service_usage_list":          {rpc: "account/usage/list"},
	"service_usage_refresh":       {rpc: "account/usage/refresh"},
	"service_login_start":         {rpc: "account/login/start"},
	"service_login_status":        {rpc: "account/login/status"},
	"service_login_complete":      {rpc: "account/login/complete"},
	"service_apikey_list":         {rpc: "apikey/list"},
	"service_apikey_create":       {rpc: "apikey/create"},
	"service_apikey_models":       {rpc: "apikey/models"},
	"service_apikey_update_model": {rpc: "apikey/updateModel", rename: map[string]string{"keyId": "id"}},
	"service_apikey_delete":       {rpc: "apikey/delete", rename: map[string]string{"keyId": "id"}},
	"service_apikey_disable":      {rpc: "apikey/disable", rename: map[string]string{"keyId": "id"}},
	"service_apikey_enable":       {rpc: "apikey/enable", rename: map[string]string{"keyId": "id"}},
	"service_requestlog_list":     {rpc: "requestlog/list"},
	"service_requestlog_clear":    {rpc: "requestlog/clear"},
}

var okResult = json.RawMessage(`{"ok":true}`)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLocalHandler registers a method served by the desk itself.
func WithLocalHandler(method string, h LocalHandler) Option {
	return func(b *Bridge) {
		if h != nil {
			b.local[method] = h
		}
	}
}

// Bridge turns desk method names into service RPC calls.
type Bridge struct {
	rpc      RPC
	launcher Launcher
	logger   *slog.Logger
	local    map[string]LocalHandler
}

// New creates a Bridge. launcher may be nil when the service is managed
// elsewhere.
func New(rpc RPC, launcher Launcher, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		rpc:      rpc,
		launcher: launcher,
		logger:   logger,
		local:    make(map[string]LocalHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call dispatches method. An "addr" param retargets the call; it is never
// forwarded to the service.
func (b *Bridge) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	addr, rest := splitAddr(params)
	if addr == "" {
		addr = b.rpc.Addr()
	}

	switch method {
	case MethodServiceStart:
		return b.start(ctx, addr)
	case MethodServiceStop:
		return b.stop(ctx)
	}

	if h, ok := b.local[method]; ok {
		return h(ctx, rest)
	}

	r, ok := routes[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownMethod, method)
	}

	b.logger.Debug("bridge call", "method", method, "rpc", r.rpc, "addr", addr)

	var p any
	if m := renameParams(rest, r.rename); m != nil {
		p = m
	}

	raw, err := b.rpc.CallAt(ctx, addr, r.rpc, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return unwrapResult(raw), nil
}

// Methods lists every method the bridge accepts, sorted.
func (b *Bridge) Methods() []string {
	out := []string{MethodServiceStart, MethodServiceStop}
	for m := range routes {
		out = append(out, m)
	}
	for m := range b.local {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) start(ctx context.Context, addr string) (json.RawMessage, error) {
	if b.launcher != nil {
		if err := b.launcher.Start(ctx, addr); err != nil {
			return nil, err
		}
	}
	b.rpc.SetAddr(addr)
	return okResult, nil
}

func (b *Bridge) stop(ctx context.Context) (json.RawMessage, error) {
	if b.launcher != nil {
		if err := b.launcher.Stop(ctx); err != nil {
			return nil, err
		}
	}
	return okResult, nil
}

func splitAddr(params map[string]any) (string, map[string]any) {
	if len(params) == 0 {
		return "", nil
	}
	rest := make(map[string]any, len(params))
	var addr string
	for k, v := range params {
		if k == "addr" {
			addr, _ = v.(string)
			continue
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		rest = nil
	}
	return addr, rest
}

func renameParams(params map[string]any, rename map[string]string) map[string]any {
	if len(rename) == 0 || params == nil {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if to, ok := rename[k]; ok {
			k = to
		}
		out[k] = v
	}
	return out
}

// unwrapResult returns the "result" member of an envelope, or raw itself.
func unwrapResult(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return raw
	}
	if inner, ok := envelope["result"]; ok {
		return inner
	}
	return raw
}
