package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type countingObserver struct {
	added, removed, dropped atomic.Int32
}

func (o *countingObserver) SubscriberAdded()   { o.added.Add(1) }
func (o *countingObserver) SubscriberRemoved() { o.removed.Add(1) }
func (o *countingObserver) SubscriberDropped() { o.dropped.Add(1) }

type helloState struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

func startHub(t *testing.T, cfg HubConfig, opts ...HubOption) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, opts...)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, server *httptest.Server) Client {
	t.Helper()
	c := NewClient(ClientConfig{URL: wsURL(server), BufferSize: 16}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case err := <-c.Errors():
		t.Fatalf("feed error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_HelloThenEvents(t *testing.T) {
	hub, server := startHub(t, HubConfig{}, WithHello(func() any {
		return helloState{Address: "localhost:48760", Connected: true}
	}))

	c := dial(t, server)

	hello := next(t, c)
	if hello.Type != TypeHello {
		t.Fatalf("first event = %q, want hello", hello.Type)
	}
	var st helloState
	if err := hello.Decode(&st); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if st.Address != "localhost:48760" || !st.Connected {
		t.Errorf("hello = %+v", st)
	}

	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	hub.OnStatusChange("connected", true)
	hub.OnHint("", false)
	hub.Toast("some data failed to refresh", "warn")

	status := next(t, c)
	var sd StatusData
	status.Decode(&sd)
	if status.Type != TypeStatus || sd.Message != "connected" || !sd.OK {
		t.Errorf("status event = %+v (%+v)", status, sd)
	}
	if status.At.IsZero() {
		t.Error("event timestamp not set")
	}

	hint := next(t, c)
	var hd HintData
	hint.Decode(&hd)
	if hint.Type != TypeHint || hd.Message != "" {
		t.Errorf("hint event = %+v (%+v)", hint, hd)
	}

	toast := next(t, c)
	var td ToastData
	toast.Decode(&td)
	if toast.Type != TypeToast || td.Level != "warn" {
		t.Errorf("toast event = %+v (%+v)", toast, td)
	}
}

func TestHub_FanOut(t *testing.T) {
	obs := &countingObserver{}
	hub, server := startHub(t, HubConfig{}, WithSubscriberObserver(obs))

	a := dial(t, server)
	b := dial(t, server)
	next(t, a)
	next(t, b)
	waitFor(t, func() bool { return hub.Subscribers() == 2 })

	hub.Publish(TypeSnapshot, map[string]int{"accounts": 3})

	for _, c := range []Client{a, b} {
		if ev := next(t, c); ev.Type != TypeSnapshot {
			t.Errorf("event = %q, want snapshot", ev.Type)
		}
	}
	if got := obs.added.Load(); got != 2 {
		t.Errorf("added = %d, want 2", got)
	}

	a.Close()
	waitFor(t, func() bool { return hub.Subscribers() == 1 })
	if got := obs.removed.Load(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	obs := &countingObserver{}
	hub := NewHub(HubConfig{BufferSize: 1}, WithSubscriberObserver(obs))

	// A subscriber nobody drains: registered directly so no write loop runs.
	slow := &subscriber{send: make(chan []byte, 1), done: make(chan struct{})}
	hub.subs[slow] = struct{}{}

	hub.Publish(TypeRefresh, nil)
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1 after first publish", hub.Subscribers())
	}

	hub.Publish(TypeRefresh, nil)
	if hub.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0 after overflow", hub.Subscribers())
	}
	if got := obs.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	select {
	case <-slow.done:
	default:
		t.Error("dropped subscriber not closed")
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub, server := startHub(t, HubConfig{})
	c := dial(t, server)
	next(t, c)
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	hub.Close()

	select {
	case <-c.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected after hub Close")
	}
	waitFor(t, func() bool { return !c.IsConnected() })
}

func TestClient_ConnectAfterClose(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://localhost:1/feed"}, nil)
	c.Close()

	if err := c.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/feed"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Error("expected dial error")
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after failed dial")
	}
}

func TestHub_DropsSilentSubscriber(t *testing.T) {
	obs := &countingObserver{}
	hub, server := startHub(t, HubConfig{
		PingInterval: 20 * time.Millisecond,
		PongWait:     60 * time.Millisecond,
	}, WithSubscriberObserver(obs))

	// A raw connection that never reads never answers pings.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return obs.added.Load() == 1 })
	waitFor(t, func() bool { return hub.Subscribers() == 0 })

	if got := obs.removed.Load(); got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}
}

func TestHub_KeepsResponsiveSubscriber(t *testing.T) {
	hub, server := startHub(t, HubConfig{
		PingInterval: 20 * time.Millisecond,
		PongWait:     60 * time.Millisecond,
	})

	c := dial(t, server)
	next(t, c)
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	time.Sleep(200 * time.Millisecond)

	if got := hub.Subscribers(); got != 1 {
		t.Errorf("subscribers = %d, want 1 after several ping rounds", got)
	}

	hub.Publish(TypeToast, ToastData{Message: "still here", Level: "info"})
	if ev := next(t, c); ev.Type != TypeToast {
		t.Errorf("event = %q, want toast", ev.Type)
	}
}

func TestNewHub_PongWaitExceedsPing(t *testing.T) {
	hub := NewHub(HubConfig{PingInterval: time.Second, PongWait: time.Second})
	if hub.cfg.PongWait != 2*time.Second {
		t.Errorf("PongWait = %v, want 2s", hub.cfg.PongWait)
	}
}
