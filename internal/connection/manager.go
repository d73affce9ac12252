package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

const hintConnectFailed = "connection failed, check the port or service status"

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the status/hint sink.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDelayFunc replaces the sleep between attempts.
func WithDelayFunc(fn DelayFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.delay = fn
		}
	}
}

// WithEnsurePolicy sets the budget used by EnsureConnected.
func WithEnsurePolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		m.ensure = p
	}
}

// WithBootPolicy sets the budget Start uses when options carry none.
func WithBootPolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		m.boot = p
	}
}

// Manager owns the believed connection state for one service address.
//
// Every probe takes a fresh ProbeID; only the probe holding the current id
// may write the outcome. Stop also bumps the id, so a probe in flight while
// the service is stopped cannot mark it connected again.
type Manager struct {
	caller   Caller
	notifier Notifier
	observer Observer
	logger   *slog.Logger
	delay    DelayFunc
	ensure   RetryPolicy
	boot     RetryPolicy

	mu     sync.Mutex
	state  State
	busyOp uint64

	ensureGroup singleflight.Group
}

// NewManager creates a Manager that reaches the service through caller.
func NewManager(caller Caller, opts ...Option) *Manager {
	m := &Manager{
		caller:   caller,
		notifier: NopNotifier{},
		observer: nopObserver{},
		logger:   slog.Default(),
		delay:    Sleep,
		ensure:   DefaultEnsurePolicy,
		boot:     DefaultBootPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Address returns the normalized service address, or "" before the first Start.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Address
}

// Connected reports the believed connectivity.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Connected
}

// SetBusy forces the busy flag without touching lifecycle ownership.
func (m *Manager) SetBusy(busy bool) {
	m.mu.Lock()
	m.state.Busy = busy
	m.mu.Unlock()
}

// BeginBusy marks a new lifecycle operation (start/stop) as in progress and
// returns its token. The newest token owns the busy flag.
func (m *Manager) BeginBusy() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginBusyLocked()
}

// TryBusy is BeginBusy that fails while another operation holds the flag.
func (m *Manager) TryBusy() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Busy {
		return 0, false
	}
	return m.beginBusyLocked(), true
}

// OwnsBusy reports whether op is still the newest lifecycle operation.
func (m *Manager) OwnsBusy(op uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyOp == op
}

// EndBusy clears the busy flag if op is still the newest lifecycle
// operation. It reports whether it did.
func (m *Manager) EndBusy(op uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyOp != op {
		return false
	}
	m.state.Busy = false
	return true
}

func (m *Manager) beginBusyLocked() uint64 {
	m.busyOp++
	m.state.Busy = true
	return m.busyOp
}

// Restore adopts a previously used address without calling the service.
func (m *Manager) Restore(raw string) error {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state.Address = addr
	m.mu.Unlock()
	return nil
}

// Connect probes the service with service_initialize. It returns false when
// every attempt failed or when a newer probe superseded this one.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) bool {
	return m.WaitForConnection(ctx, opts) == nil
}

// EnsureConnected returns true immediately when connected, otherwise runs a
// probe with the ensure budget. Concurrent callers share one probe; a caller
// whose ctx ends stops waiting and gets false without cutting the probe short
// for the others.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	if m.Connected() {
		return true
	}
	probeCtx := context.WithoutCancel(ctx)
	ch := m.ensureGroup.DoChan("ensure", func() (any, error) {
		return m.Connect(probeCtx, ConnectOptions{RetryPolicy: m.ensure}), nil
	})
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

// WaitForConnection is Connect with a typed outcome: nil on success,
// ErrStaleProbe when superseded, *TransportError when every attempt failed.
func (m *Manager) WaitForConnection(ctx context.Context, opts ConnectOptions) error {
	probe, addr := m.beginProbe()
	m.notifier.OnStatusChange("connecting", false)
	m.notifier.OnHint("", false)

	attempts := opts.Attempts()
	logger := m.logger.With("probe", probe, "addr", addr)

	var lastErr error
	made := 0
	for made < attempts {
		made++
		_, err := m.caller.Call(ctx, MethodInitialize, addrParams(addr))
		if err == nil {
			if !m.finishProbe(probe, true, "") {
				return m.stale(logger)
			}
			m.observer.ConnectAttempt(OutcomeSuccess)
			m.observer.SetConnected(true)
			m.notifier.OnStatusChange("connected", true)
			m.notifier.OnHint("", false)
			logger.Info("service connected", "attempts", made)
			return nil
		}

		lastErr = err
		m.observer.ConnectAttempt(OutcomeFailure)
		logger.Debug("initialize attempt failed", "attempt", made, "error", err)

		if !m.isCurrent(probe) {
			return m.stale(logger)
		}
		if made == attempts {
			break
		}
		if derr := m.delay(ctx, opts.Delay); derr != nil {
			lastErr = fmt.Errorf("%w (last error: %v)", derr, lastErr)
			break
		}
		if !m.isCurrent(probe) {
			return m.stale(logger)
		}
	}

	if !m.finishProbe(probe, false, lastErr.Error()) {
		return m.stale(logger)
	}
	m.observer.SetConnected(false)
	m.notifier.OnStatusChange("disconnected", false)
	if !opts.Silent {
		m.notifier.OnHint(hintConnectFailed, true)
	}
	logger.Warn("service unreachable", "attempts", made, "error", lastErr)
	return &TransportError{Method: MethodInitialize, Attempts: made, Err: lastErr}
}

// Start records the address and asks the bridge to start the service. Unless
// SkipInitialize is set it then waits for the service to answer. The only
// error returned is ErrInvalidAddress; remote failures yield false.
func (m *Manager) Start(ctx context.Context, raw string, opts StartOptions) (bool, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.state.Address = addr
	m.mu.Unlock()

	m.notifier.OnHint("", false)
	m.notifier.OnStatusChange("starting", false)
	m.logger.Info("starting service", "addr", addr)

	if _, err := m.caller.Call(ctx, MethodStart, addrParams(addr)); err != nil {
		m.recordError(err)
		m.notifier.OnStatusChange("", false)
		m.notifier.OnHint("start failed: "+err.Error(), true)
		m.logger.Warn("service start failed", "addr", addr, "error", err)
		return false, nil
	}
	if opts.SkipInitialize {
		return true, nil
	}

	policy := opts.RetryPolicy
	if policy == (RetryPolicy{}) {
		policy = m.boot
	}
	return m.Connect(ctx, ConnectOptions{RetryPolicy: policy, Silent: opts.Silent}), nil
}

// Stop asks the bridge to stop the service. Failures are recorded and hinted
// but never returned; afterwards the manager is disconnected and any probe
// still in flight is superseded.
func (m *Manager) Stop(ctx context.Context) {
	m.notifier.OnStatusChange("stopping", false)

	_, err := m.caller.Call(ctx, MethodStop, addrParams(m.Address()))

	m.mu.Lock()
	m.state.ProbeID++
	m.state.Connected = false
	if err != nil {
		m.state.LastError = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		m.notifier.OnHint("stop failed: "+err.Error(), true)
		m.logger.Warn("service stop failed", "error", err)
	} else {
		m.logger.Info("service stopped")
	}
	m.observer.SetConnected(false)
	m.notifier.OnStatusChange("", false)
}

func (m *Manager) beginProbe() (uint64, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ProbeID++
	return m.state.ProbeID, m.state.Address
}

func (m *Manager) isCurrent(probe uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ProbeID == probe
}

// finishProbe writes the outcome if probe is still current.
func (m *Manager) finishProbe(probe uint64, connected bool, lastErr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ProbeID != probe {
		return false
	}
	m.state.Connected = connected
	m.state.LastError = lastErr
	return true
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.state.LastError = err.Error()
	m.mu.Unlock()
}

func (m *Manager) stale(logger *slog.Logger) error {
	m.observer.ConnectAttempt(OutcomeStale)
	logger.Debug("probe superseded")
	return ErrStaleProbe
}

func addrParams(addr string) map[string]any {
	if addr == "" {
		return nil
	}
	return map[string]any{"addr": addr}
}

// IsStale reports whether err means the probe was superseded.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleProbe)
}
