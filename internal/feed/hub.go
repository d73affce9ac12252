package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SubscriberObserver records subscriber churn.
type SubscriberObserver interface {
	SubscriberAdded()
	SubscriberRemoved()
	SubscriberDropped()
}

type nopSubscriberObserver struct{}

func (nopSubscriberObserver) SubscriberAdded()   {}
func (nopSubscriberObserver) SubscriberRemoved() {}
func (nopSubscriberObserver) SubscriberDropped() {}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSubscriberObserver sets the subscriber metrics sink.
func WithSubscriberObserver(o SubscriberObserver) HubOption {
	return func(h *Hub) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithHello sets the function whose value is sent as the hello payload.
func WithHello(fn func() any) HubOption {
	return func(h *Hub) { h.hello = fn }
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(*http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub fans events out to websocket subscribers. It also implements
// connection.Notifier so status and hint lines reach the renderer.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	observer SubscriberObserver
	upgrader websocket.Upgrader
	hello    func() any
	now      func() time.Time

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, opts ...HubOption) *Hub {
	def := DefaultHubConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}

	h := &Hub{
		cfg:      cfg,
		logger:   slog.Default(),
		observer: nopSubscriberObserver{},
		now:      time.Now,
		subs:     make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("feed upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, h.cfg.BufferSize),
		done: make(chan struct{}),
	}

	var hello any
	if h.hello != nil {
		hello = h.hello()
	}
	frame, err := h.encode(TypeHello, hello)
	if err == nil {
		sub.send <- frame
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.observer.SubscriberAdded()
	h.logger.Debug("feed subscriber joined", "remote", r.RemoteAddr)

	go h.readLoop(sub)
	h.writeLoop(sub)

	h.remove(sub)
	conn.Close()
	h.logger.Debug("feed subscriber left", "remote", r.RemoteAddr)
}

// Publish sends an event to every subscriber. A subscriber whose queue is
// full is dropped.
func (h *Hub) Publish(eventType string, data any) {
	frame, err := h.encode(eventType, data)
	if err != nil {
		h.logger.Warn("feed encode failed", "type", eventType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			delete(h.subs, sub)
			sub.close()
			h.observer.SubscriberDropped()
			h.observer.SubscriberRemoved()
			h.logger.Warn("feed subscriber too slow, dropping")
		}
	}
}

// Subscribers returns the live subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
		h.observer.SubscriberRemoved()
	}
	return nil
}

func (h *Hub) OnStatusChange(message string, ok bool) {
	h.Publish(TypeStatus, StatusData{Message: message, OK: ok})
}

func (h *Hub) OnHint(message string, isError bool) {
	h.Publish(TypeHint, HintData{Message: message, IsError: isError})
}

// Toast publishes a transient notice.
func (h *Hub) Toast(message, level string) {
	h.Publish(TypeToast, ToastData{Message: message, Level: level})
}

func (h *Hub) encode(eventType string, data any) ([]byte, error) {
	ev := Event{Type: eventType, At: h.now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return json.Marshal(ev)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
	if ok {
		h.observer.SubscriberRemoved()
	}
}

// readLoop discards inbound frames so control frames are processed, and
// ends the subscription when the peer goes away or stops answering pings.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.close()

	extend := func() error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	}
	extend()
	sub.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.logger.Debug("feed read ended", "error", err)
			return
		}
		extend()
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case frame := <-sub.send:
					if h.write(sub.conn, frame) != nil {
						return
					}
				default:
					sub.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second),
					)
					return
				}
			}
		case frame := <-sub.send:
			if err := h.write(sub.conn, frame); err != nil {
				h.logger.Debug("feed write failed", "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := sub.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				h.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
