package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func valueTask(name, v string) Task[string] {
	return Task[string]{Name: name, Run: func(context.Context) (string, error) { return v, nil }}
}

func TestRunTasks_PartialFailure(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task[string]{
		valueTask("A", "ok"),
		{Name: "B", Run: func(context.Context) (string, error) { return "", boom }},
		valueTask("C", "ok"),
	}

	type hookCall struct {
		name string
		err  error
	}
	var calls []hookCall
	results := RunTasks(context.Background(), tasks, func(name string, err error) {
		calls = append(calls, hookCall{name, err})
	})

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	wantStatus := []Status{StatusFulfilled, StatusRejected, StatusFulfilled}
	for i, r := range results {
		if r.Name != tasks[i].Name {
			t.Errorf("results[%d].Name = %q, want %q", i, r.Name, tasks[i].Name)
		}
		if r.Status != wantStatus[i] {
			t.Errorf("results[%d].Status = %q, want %q", i, r.Status, wantStatus[i])
		}
	}
	if results[0].Value != "ok" || results[2].Value != "ok" {
		t.Errorf("values = %q, %q; want ok, ok", results[0].Value, results[2].Value)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want boom", results[1].Err)
	}

	if len(calls) != 1 {
		t.Fatalf("hook calls = %d, want 1", len(calls))
	}
	if calls[0].name != "B" || !errors.Is(calls[0].err, boom) {
		t.Errorf("hook call = (%q, %v), want (B, boom)", calls[0].name, calls[0].err)
	}
}

func TestRunTasks_RunsConcurrently(t *testing.T) {
	const n = 5
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	tasks := make([]Task[int], n)
	for i := range tasks {
		i := i
		tasks[i] = Task[int]{Name: "t", Run: func(context.Context) (int, error) {
			started.Done()
			<-release
			return i, nil
		}}
	}

	go func() {
		started.Wait() // every task must be in flight at the same time
		close(release)
	}()

	done := make(chan []Result[int])
	go func() { done <- RunTasks(context.Background(), tasks, nil) }()

	select {
	case results := <-done:
		for i, r := range results {
			if r.Value != i {
				t.Errorf("results[%d].Value = %d, want %d", i, r.Value, i)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunTasks did not run tasks concurrently")
	}
}

func TestRunTasks_HookRunsAfterSettleInOrder(t *testing.T) {
	var finished atomic.Int32
	slow := Task[int]{Name: "slow", Run: func(context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		finished.Add(1)
		return 0, nil
	}}
	failFirst := Task[int]{Name: "x", Run: func(context.Context) (int, error) {
		finished.Add(1)
		return 0, errors.New("x")
	}}
	failSecond := Task[int]{Name: "y", Run: func(context.Context) (int, error) {
		finished.Add(1)
		return 0, errors.New("y")
	}}

	var order []string
	RunTasks(context.Background(), []Task[int]{failFirst, slow, failSecond}, func(name string, _ error) {
		if got := finished.Load(); got != 3 {
			t.Errorf("hook ran with %d tasks settled, want 3", got)
		}
		order = append(order, name)
	})

	if len(order) != 2 || order[0] != "x" || order[1] != "y" {
		t.Errorf("hook order = %v, want [x y]", order)
	}
}

func TestRunTasks_PanicIsRejected(t *testing.T) {
	tasks := []Task[string]{
		{Name: "panics", Run: func(context.Context) (string, error) { panic("kaboom") }},
		valueTask("fine", "v"),
		{Name: "nil"},
	}

	results := RunTasks(context.Background(), tasks, nil)

	if results[0].Status != StatusRejected || !errors.Is(results[0].Err, ErrTaskPanic) {
		t.Errorf("results[0] = %+v, want rejected ErrTaskPanic", results[0])
	}
	if !results[1].OK() {
		t.Errorf("results[1] = %+v, want fulfilled", results[1])
	}
	if !errors.Is(results[2].Err, ErrNilTask) {
		t.Errorf("results[2].Err = %v, want ErrNilTask", results[2].Err)
	}
}

func TestRunTasks_HookPanicIsSwallowed(t *testing.T) {
	tasks := []Task[string]{
		{Name: "a", Run: func(context.Context) (string, error) { return "", errors.New("a") }},
		{Name: "b", Run: func(context.Context) (string, error) { return "", errors.New("b") }},
	}

	var calls int
	results := RunTasks(context.Background(), tasks, func(string, error) {
		calls++
		panic("hook")
	})

	if calls != 2 {
		t.Errorf("hook calls = %d, want 2", calls)
	}
	if got := Failed(results); len(got) != 2 {
		t.Errorf("Failed = %v, want [a b]", got)
	}
}

func TestRunTasks_Empty(t *testing.T) {
	results := RunTasks[int](context.Background(), nil, func(string, error) {
		t.Error("hook should not be called")
	})
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestRecurring_StartStop(t *testing.T) {
	ts := &TimerState{}
	var ticks atomic.Int32
	task := func(context.Context) { ticks.Add(1) }

	if !StartRecurring(context.Background(), ts, task, 10*time.Millisecond) {
		t.Fatal("first StartRecurring = false, want true")
	}
	if StartRecurring(context.Background(), ts, task, 10*time.Millisecond) {
		t.Error("second StartRecurring = true, want false")
	}
	if !ts.Running() {
		t.Error("Running = false after start")
	}

	time.Sleep(55 * time.Millisecond)

	if !StopRecurring(ts) {
		t.Error("StopRecurring = false, want true")
	}
	if ts.Running() {
		t.Error("Running = true after stop")
	}
	if StopRecurring(ts) {
		t.Error("second StopRecurring = true, want false")
	}

	got := ticks.Load()
	if got == 0 {
		t.Error("no ticks observed")
	}
	time.Sleep(30 * time.Millisecond)
	if after := ticks.Load(); after > got+1 {
		t.Errorf("ticks kept firing after stop: %d -> %d", got, after)
	}

	// Restartable after stop.
	if !StartRecurring(context.Background(), ts, task, time.Hour) {
		t.Error("StartRecurring after stop = false, want true")
	}
	StopRecurring(ts)
}

func TestRecurring_RejectsBadInterval(t *testing.T) {
	ts := &TimerState{}
	for _, d := range []time.Duration{0, -time.Second} {
		if StartRecurring(context.Background(), ts, func(context.Context) {}, d) {
			t.Errorf("StartRecurring(interval=%v) = true, want false", d)
		}
	}
	if ts.Running() {
		t.Error("Running = true after rejected start")
	}
}

func TestRecurring_SkipsOverlappingTicks(t *testing.T) {
	ts := &TimerState{}
	var running, maxRunning atomic.Int32
	task := func(ctx context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
		}
		running.Add(-1)
	}

	StartRecurring(context.Background(), ts, task, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	StopRecurring(ts)

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent ticks = %d, want 1", got)
	}
}

func TestRecurring_AllowOverlap(t *testing.T) {
	ts := NewTimerState(TimerOptions{AllowOverlap: true})
	var maxRunning, running atomic.Int32
	release := make(chan struct{})
	task := func(ctx context.Context) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		running.Add(-1)
	}

	StartRecurring(context.Background(), ts, task, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	StopRecurring(ts)
	close(release)

	if got := maxRunning.Load(); got < 2 {
		t.Errorf("max concurrent ticks = %d, want >= 2", got)
	}
}

func TestRecurring_StopCancelsInFlightTick(t *testing.T) {
	ts := &TimerState{}
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	var once sync.Once
	task := func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		select {
		case <-cancelled:
		default:
			close(cancelled)
		}
	}

	StartRecurring(context.Background(), ts, task, 5*time.Millisecond)
	<-entered
	StopRecurring(ts)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight tick did not observe cancellation")
	}
}
