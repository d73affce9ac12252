package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Event types.
const (
	TypeHello      = "hello"      // Sent once on subscribe, data = connection state
	TypeStatus     = "status"     // data = StatusData
	TypeHint       = "hint"       // data = HintData
	TypeConnection = "connection" // data = connection state
	TypeRefresh    = "refresh"    // data = per-task refresh outcome
	TypeSnapshot   = "snapshot"   // data = full desk snapshot
	TypeToast      = "toast"      // data = ToastData
)

// Event is one feed message.
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// StatusData carries a connection status line. An empty message clears it.
type StatusData struct {
	Message string `json:"message"`
	OK      bool   `json:"ok"`
}

// HintData carries a service hint. An empty message clears it.
type HintData struct {
	Message string `json:"message"`
	IsError bool   `json:"isError"`
}

// ToastData is a transient user notice.
type ToastData struct {
	Message string `json:"message"`
	Level   string `json:"level"` // info, warn, error
}

// HubConfig configures a Hub.
type HubConfig struct {
	BufferSize   int           // Per-subscriber queue; full queue drops the subscriber
	WriteTimeout time.Duration // Write deadline per frame
	PingInterval time.Duration // Server ping cadence
	PongWait     time.Duration // Max silence from a subscriber before it is dropped; must exceed PingInterval
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:   64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// ClientConfig configures a feed Client.
type ClientConfig struct {
	URL           string        // ws://host:port/feed
	PingTimeout   time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout  time.Duration // Write deadline for control frames
	BufferSize    int           // Event channel buffer size
	HeartbeatTick time.Duration // Client ping cadence
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:   90 * time.Second,
		WriteTimeout:  5 * time.Second,
		BufferSize:    256,
		HeartbeatTick: 30 * time.Second,
	}
}
