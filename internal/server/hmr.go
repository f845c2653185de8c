package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	kilnerrors "github.com/kiln-build/kiln/internal/errors"
)

// HmrMessageType discriminates the messages exchanged on the hot-reload
// channel.
type HmrMessageType string

const (
	HmrConnected  HmrMessageType = "connected"
	HmrUpdate     HmrMessageType = "update"
	HmrFullReload HmrMessageType = "full-reload"
	HmrError      HmrMessageType = "error"
	HmrPing       HmrMessageType = "ping"
	HmrPong       HmrMessageType = "pong"
)

// HmrMessage is the tagged payload sent to and received from connected
// clients.
type HmrMessage struct {
	Type      HmrMessageType `json:"type"`
	ModuleIDs []string       `json:"moduleIds,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Payload   string         `json:"payload,omitempty"`
}

// hmrClient is one connected channel. Writes are serialized per client:
// pong replies come from the read goroutine while broadcasts come from the
// change-processing goroutine.
type hmrClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hmrClient) send(msg HmrMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// HmrChannel maintains the persistent bidirectional channels at the
// dedicated upgrade path and fans change notifications out to them.
type HmrChannel struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	timeout  time.Duration

	mu      sync.RWMutex
	clients map[*hmrClient]bool
}

// NewHmrChannel creates the channel endpoint. A zero timeout disables read
// deadlines.
func NewHmrChannel(logger zerolog.Logger, timeout time.Duration) *HmrChannel {
	return &HmrChannel{
		logger:  logger,
		timeout: timeout,
		clients: make(map[*hmrClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dev server accepts any origin
			},
		},
	}
}

// ServeHTTP upgrades the connection, completes the connected handshake and
// services the channel until the client goes away. Reconnecting clients
// re-synchronize via a fresh handshake; no messages are replayed.
func (h *HmrChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &hmrClient{conn: conn}
	if err := client.send(HmrMessage{Type: HmrConnected}); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.readLoop(client)

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	conn.Close()
}

// readLoop services inbound messages until the connection errors out.
// Ping is liveness only; it is answered with pong and changes no state.
func (h *HmrChannel) readLoop(client *hmrClient) {
	for {
		if h.timeout > 0 {
			client.conn.SetReadDeadline(time.Now().Add(h.timeout))
		}

		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg HmrMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ke := kilnerrors.New("E501").Wrap(err)
			h.logger.Warn().Err(ke).Msg("dropping malformed hot-reload message")
			continue
		}

		if msg.Type == HmrPing {
			if err := client.send(HmrMessage{Type: HmrPong}); err != nil {
				return
			}
		}
	}
}

// Broadcast delivers a message to every currently connected channel. A
// channel that disconnects mid-broadcast is skipped and pruned without
// aborting delivery to the rest; the message is not redelivered after
// reconnect.
func (h *HmrChannel) Broadcast(msg HmrMessage) {
	h.mu.RLock()
	clients := make([]*hmrClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.send(msg); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.conn.Close()
		}
	}
}

// ClientCount returns the number of connected channels.
func (h *HmrChannel) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connected channel.
func (h *HmrChannel) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}
