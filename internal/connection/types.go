package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidAddress = errors.New("service address is required")
	ErrStaleProbe     = errors.New("connection probe superseded")
)

// Remote methods invoked by the Manager.
const (
	MethodInitialize = "service_initialize"
	MethodStart      = "service_start"
	MethodStop       = "service_stop"
)

// TransportError is returned by WaitForConnection when every attempt failed.
type TransportError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Method, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Caller performs a named remote call and returns the raw JSON result.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Notifier receives user-facing status lines and service hints.
// An empty message clears the corresponding line.
type Notifier interface {
	OnStatusChange(message string, ok bool)
	OnHint(message string, isError bool)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) OnStatusChange(string, bool) {}
func (NopNotifier) OnHint(string, bool)         {}

// Observer records connection metrics.
type Observer interface {
	ConnectAttempt(outcome string)
	SetConnected(connected bool)
}

// Attempt outcomes passed to Observer.ConnectAttempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
)

type nopObserver struct{}

func (nopObserver) ConnectAttempt(string) {}
func (nopObserver) SetConnected(bool)     {}

// RetryPolicy bounds a connection attempt: Retries+1 calls, Delay apart.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// Attempts returns the total number of calls the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Default budgets.
var (
	DefaultEnsurePolicy = RetryPolicy{Retries: 1, Delay: 200 * time.Millisecond}
	DefaultBootPolicy   = RetryPolicy{Retries: 8, Delay: 400 * time.Millisecond}
)

// ConnectOptions controls a single Connect or WaitForConnection call.
type ConnectOptions struct {
	RetryPolicy
	Silent bool // suppress the failure hint
}

// StartOptions controls Start. A zero RetryPolicy uses the boot budget.
type StartOptions struct {
	RetryPolicy
	SkipInitialize bool
	Silent         bool
}

// DelayFunc sleeps for d or until ctx is done.
type DelayFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default DelayFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State is a point-in-time copy of the believed connection state.
type State struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	Busy      bool   `json:"busy"`
	ProbeID   uint64 `json:"probeId"`
	LastError string `json:"lastError,omitempty"`
}
