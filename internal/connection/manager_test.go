package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockCaller answers calls through fn and counts them per method.
type mockCaller struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, method string, n int) error
}

func newMockCaller(fn func(ctx context.Context, method string, n int) error) *mockCaller {
	return &mockCaller{calls: make(map[string]int), fn: fn}
}

func (c *mockCaller) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	c.calls[method]++
	n := c.calls[method]
	c.mu.Unlock()

	if c.fn == nil {
		return json.RawMessage(`{}`), nil
	}
	if err := c.fn(ctx, method, n); err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func (c *mockCaller) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

type recordedHint struct {
	msg     string
	isError bool
}

// mockNotifier records hints.
type mockNotifier struct {
	mu     sync.Mutex
	hints  []recordedHint
	status []string
}

func (n *mockNotifier) OnStatusChange(msg string, ok bool) {
	n.mu.Lock()
	n.status = append(n.status, msg)
	n.mu.Unlock()
}

func (n *mockNotifier) OnHint(msg string, isError bool) {
	n.mu.Lock()
	n.hints = append(n.hints, recordedHint{msg, isError})
	n.mu.Unlock()
}

func (n *mockNotifier) errorHints() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, h := range n.hints {
		if h.isError {
			out = append(out, h.msg)
		}
	}
	return out
}

// noDelay records requested delays without sleeping.
type noDelay struct {
	calls atomic.Int32
}

func (d *noDelay) fn(ctx context.Context, _ time.Duration) error {
	d.calls.Add(1)
	return ctx.Err()
}

var errBoom = errors.New("boom")

func TestConnect_AlwaysFailing(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		caller := newMockCaller(func(context.Context, string, int) error { return errBoom })
		notifier := &mockNotifier{}
		delay := &noDelay{}
		m := NewManager(caller, WithNotifier(notifier), WithDelayFunc(delay.fn))

		ok := m.Connect(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: retries, Delay: time.Second}})

		if ok {
			t.Errorf("retries=%d: Connect = true, want false", retries)
		}
		if got := caller.count(MethodInitialize); got != retries+1 {
			t.Errorf("retries=%d: attempts = %d, want %d", retries, got, retries+1)
		}
		if got := int(delay.calls.Load()); got != retries {
			t.Errorf("retries=%d: delays = %d, want %d", retries, got, retries)
		}
		st := m.State()
		if st.Connected {
			t.Errorf("retries=%d: Connected = true", retries)
		}
		if st.LastError != "boom" {
			t.Errorf("retries=%d: LastError = %q, want boom", retries, st.LastError)
		}
		hints := notifier.errorHints()
		if len(hints) != 1 || hints[0] != hintConnectFailed {
			t.Errorf("retries=%d: error hints = %v, want [%q]", retries, hints, hintConnectFailed)
		}
	}
}

func TestConnect_SilentSuppressesHint(t *testing.T) {
	caller := newMockCaller(func(context.Context, string, int) error { return errBoom })
	notifier := &mockNotifier{}
	m := NewManager(caller, WithNotifier(notifier), WithDelayFunc((&noDelay{}).fn))

	m.Connect(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: 2}, Silent: true})

	if hints := notifier.errorHints(); len(hints) != 0 {
		t.Errorf("error hints = %v, want none", hints)
	}
}

func TestConnect_SucceedsOnThirdAttempt(t *testing.T) {
	caller := newMockCaller(func(_ context.Context, _ string, n int) error {
		if n < 3 {
			return errBoom
		}
		return nil
	})
	m := NewManager(caller, WithDelayFunc((&noDelay{}).fn))

	ok := m.Connect(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: 5}})

	if !ok {
		t.Fatal("Connect = false, want true")
	}
	if got := caller.count(MethodInitialize); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	st := m.State()
	if !st.Connected {
		t.Error("Connected = false, want true")
	}
	if st.LastError != "" {
		t.Errorf("LastError = %q, want empty", st.LastError)
	}
}

func TestConnect_NewerProbeWins(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	caller := newMockCaller(func(_ context.Context, _ string, n int) error {
		if n == 1 {
			close(entered)
			<-release
			return nil // late success of the first probe
		}
		return errBoom
	})
	m := NewManager(caller, WithDelayFunc((&noDelay{}).fn))

	firstDone := make(chan bool)
	go func() {
		firstDone <- m.Connect(context.Background(), ConnectOptions{})
	}()
	<-entered

	if m.Connect(context.Background(), ConnectOptions{Silent: true}) {
		t.Fatal("second Connect = true, want false")
	}
	close(release)

	if <-firstDone {
		t.Error("first Connect = true, want false (superseded)")
	}
	if m.State().Connected {
		t.Error("Connected = true, superseded probe flipped the state")
	}
	if got := m.State().ProbeID; got != 2 {
		t.Errorf("ProbeID = %d, want 2", got)
	}
}

func TestWaitForConnection_StaleStopsRetrying(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	caller := newMockCaller(func(_ context.Context, method string, n int) error {
		if method == MethodInitialize && n == 1 {
			entered <- struct{}{}
			<-release
		}
		return errBoom
	})
	m := NewManager(caller, WithDelayFunc((&noDelay{}).fn))

	done := make(chan error)
	go func() {
		done <- m.WaitForConnection(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: 10}})
	}()
	<-entered

	m.Stop(context.Background())
	close(release)

	err := <-done
	if !errors.Is(err, ErrStaleProbe) {
		t.Errorf("err = %v, want ErrStaleProbe", err)
	}
	if got := caller.count(MethodInitialize); got != 1 {
		t.Errorf("initialize attempts = %d, want 1", got)
	}
}

func TestWaitForConnection_TransportError(t *testing.T) {
	caller := newMockCaller(func(context.Context, string, int) error { return errBoom })
	m := NewManager(caller, WithDelayFunc((&noDelay{}).fn))

	err := m.WaitForConnection(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: 2}})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", te.Attempts)
	}
	if !errors.Is(err, errBoom) {
		t.Error("TransportError should unwrap to the last call error")
	}
}

func TestWaitForConnection_ContextCanceledDuringDelay(t *testing.T) {
	caller := newMockCaller(func(context.Context, string, int) error { return errBoom })
	m := NewManager(caller)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WaitForConnection(ctx, ConnectOptions{RetryPolicy: RetryPolicy{Retries: 5, Delay: time.Hour}})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if got := caller.count(MethodInitialize); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestEnsureConnected(t *testing.T) {
	t.Run("already connected skips probe", func(t *testing.T) {
		caller := newMockCaller(nil)
		m := NewManager(caller)
		if !m.Connect(context.Background(), ConnectOptions{}) {
			t.Fatal("Connect failed")
		}

		if !m.EnsureConnected(context.Background()) {
			t.Error("EnsureConnected = false, want true")
		}
		if got := caller.count(MethodInitialize); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("uses ensure budget", func(t *testing.T) {
		caller := newMockCaller(func(context.Context, string, int) error { return errBoom })
		m := NewManager(caller, WithDelayFunc((&noDelay{}).fn))

		if m.EnsureConnected(context.Background()) {
			t.Error("EnsureConnected = true, want false")
		}
		if got := caller.count(MethodInitialize); got != DefaultEnsurePolicy.Retries+1 {
			t.Errorf("attempts = %d, want %d", got, DefaultEnsurePolicy.Retries+1)
		}
	})

	t.Run("concurrent callers share one probe", func(t *testing.T) {
		release := make(chan struct{})
		caller := newMockCaller(func(context.Context, string, int) error {
			<-release
			return nil
		})
		m := NewManager(caller)

		var wg sync.WaitGroup
		var okCount atomic.Int32
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if m.EnsureConnected(context.Background()) {
					okCount.Add(1)
				}
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		if okCount.Load() != 5 {
			t.Errorf("ok callers = %d, want 5", okCount.Load())
		}
		if got := caller.count(MethodInitialize); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})
	t.Run("canceled caller does not fail joined callers", func(t *testing.T) {
		release := make(chan struct{})
		caller := newMockCaller(func(ctx context.Context, _ string, _ int) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		m := NewManager(caller)

		firstCtx, cancelFirst := context.WithCancel(context.Background())
		first := make(chan bool, 1)
		go func() { first <- m.EnsureConnected(firstCtx) }()
		waitUntil(t, func() bool { return caller.count(MethodInitialize) == 1 })

		second := make(chan bool, 1)
		go func() { second <- m.EnsureConnected(context.Background()) }()
		time.Sleep(20 * time.Millisecond)

		cancelFirst()
		if ok := <-first; ok {
			t.Error("canceled caller = true, want false")
		}

		close(release)
		if ok := <-second; !ok {
			t.Error("joined caller = false, want true")
		}
		if !m.Connected() {
			t.Error("Connected = false, want true")
		}
		if got := caller.count(MethodInitialize); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStart(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		caller := newMockCaller(nil)
		m := NewManager(caller)

		ok, err := m.Start(context.Background(), "   ", StartOptions{})

		if ok || !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Start = %v, %v; want false, ErrInvalidAddress", ok, err)
		}
		if caller.count(MethodStart) != 0 {
			t.Error("service_start should not be called")
		}
	})

	t.Run("start failure leaves connected untouched", func(t *testing.T) {
		caller := newMockCaller(func(_ context.Context, method string, _ int) error {
			if method == MethodStart {
				return errBoom
			}
			return nil
		})
		notifier := &mockNotifier{}
		m := NewManager(caller, WithNotifier(notifier))
		m.Connect(context.Background(), ConnectOptions{})

		ok, err := m.Start(context.Background(), "9000", StartOptions{})

		if ok || err != nil {
			t.Errorf("Start = %v, %v; want false, nil", ok, err)
		}
		st := m.State()
		if !st.Connected {
			t.Error("Connected changed on start failure")
		}
		if st.Address != "localhost:9000" {
			t.Errorf("Address = %q, want localhost:9000", st.Address)
		}
		if hints := notifier.errorHints(); len(hints) != 1 || hints[0] != "start failed: boom" {
			t.Errorf("error hints = %v", hints)
		}
	})

	t.Run("skip initialize", func(t *testing.T) {
		caller := newMockCaller(nil)
		m := NewManager(caller)

		ok, err := m.Start(context.Background(), "http://127.0.0.1:48760/", StartOptions{SkipInitialize: true})

		if !ok || err != nil {
			t.Errorf("Start = %v, %v; want true, nil", ok, err)
		}
		if caller.count(MethodInitialize) != 0 {
			t.Error("service_initialize should not be called")
		}
		if m.Connected() {
			t.Error("Connected = true without initialize")
		}
	})

	t.Run("uses boot budget by default", func(t *testing.T) {
		caller := newMockCaller(func(_ context.Context, method string, _ int) error {
			if method == MethodInitialize {
				return errBoom
			}
			return nil
		})
		m := NewManager(caller, WithDelayFunc((&noDelay{}).fn), WithBootPolicy(RetryPolicy{Retries: 3}))

		ok, _ := m.Start(context.Background(), "9000", StartOptions{Silent: true})

		if ok {
			t.Error("Start = true, want false")
		}
		if got := caller.count(MethodInitialize); got != 4 {
			t.Errorf("attempts = %d, want 4", got)
		}
	})
}

func TestStop_Twice(t *testing.T) {
	caller := newMockCaller(nil)
	m := NewManager(caller)
	m.Connect(context.Background(), ConnectOptions{})

	m.Stop(context.Background())
	if m.Connected() {
		t.Error("Connected = true after first Stop")
	}
	m.Stop(context.Background())
	if m.Connected() {
		t.Error("Connected = true after second Stop")
	}
	if got := caller.count(MethodStop); got != 2 {
		t.Errorf("stop calls = %d, want 2", got)
	}
}

func TestStop_FailureIsHinted(t *testing.T) {
	caller := newMockCaller(func(_ context.Context, method string, _ int) error {
		if method == MethodStop {
			return errBoom
		}
		return nil
	})
	notifier := &mockNotifier{}
	m := NewManager(caller, WithNotifier(notifier))
	m.Connect(context.Background(), ConnectOptions{})

	m.Stop(context.Background())

	if m.Connected() {
		t.Error("Connected = true after failed Stop")
	}
	if hints := notifier.errorHints(); len(hints) != 1 || hints[0] != "stop failed: boom" {
		t.Errorf("error hints = %v", hints)
	}
}

func TestRestoreAndBusy(t *testing.T) {
	m := NewManager(newMockCaller(nil))

	if err := m.Restore("0.0.0.0:7000"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	m.SetBusy(true)

	st := m.State()
	if st.Address != "localhost:7000" {
		t.Errorf("Address = %q, want localhost:7000", st.Address)
	}
	if !st.Busy {
		t.Error("Busy = false, want true")
	}
	if err := m.Restore(""); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Restore(\"\") = %v, want ErrInvalidAddress", err)
	}
}

func TestBusyOwnership(t *testing.T) {
	m := NewManager(newMockCaller(nil))

	first, ok := m.TryBusy()
	if !ok || !m.State().Busy {
		t.Fatal("TryBusy on idle manager failed")
	}
	if _, ok := m.TryBusy(); ok {
		t.Error("TryBusy while busy = true, want false")
	}

	second := m.BeginBusy()
	if m.OwnsBusy(first) {
		t.Error("older operation still owns busy")
	}
	if m.EndBusy(first) {
		t.Error("EndBusy(older) = true, want false")
	}
	if !m.State().Busy {
		t.Error("older operation cleared busy")
	}

	if !m.EndBusy(second) {
		t.Error("EndBusy(newest) = false, want true")
	}
	if m.State().Busy {
		t.Error("Busy = true after newest operation ended")
	}
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	last     bool
}

func (o *countingObserver) ConnectAttempt(outcome string) {
	o.mu.Lock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) SetConnected(c bool) {
	o.mu.Lock()
	o.last = c
	o.mu.Unlock()
}

func TestObserver(t *testing.T) {
	caller := newMockCaller(func(_ context.Context, _ string, n int) error {
		if n < 2 {
			return errBoom
		}
		return nil
	})
	obs := &countingObserver{}
	m := NewManager(caller, WithObserver(obs), WithDelayFunc((&noDelay{}).fn))

	m.Connect(context.Background(), ConnectOptions{RetryPolicy: RetryPolicy{Retries: 2}})

	if obs.outcomes[OutcomeFailure] != 1 || obs.outcomes[OutcomeSuccess] != 1 {
		t.Errorf("outcomes = %v, want 1 failure and 1 success", obs.outcomes)
	}
	if !obs.last {
		t.Error("SetConnected(true) not observed")
	}
}
