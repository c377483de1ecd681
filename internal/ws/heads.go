// Package ws provides a WebSocket new-head feed from an Ethereum node.
// Receipt waiters use it to re-check on every block instead of sleeping a
// fixed interval.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gipsh/cpk-buyer-go/internal/log"
)

const (
	pingInterval   = 9 * time.Second
	reconnectDelay = 2 * time.Second
	writeTimeout   = 5 * time.Second
)

// HeadWatcher keeps an eth_subscribe("newHeads") subscription open and fans
// block numbers out to subscribers. Slow subscribers miss heads rather than
// stall the feed.
type HeadWatcher struct {
	url string

	mu     sync.Mutex
	subs   map[int]chan uint64
	nextID int
	latest uint64
	conn   *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeadWatcher creates a watcher for the node at url (ws:// or wss://).
func NewHeadWatcher(url string) *HeadWatcher {
	return &HeadWatcher{
		url:    url,
		subs:   make(map[int]chan uint64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background connection loop.
func (h *HeadWatcher) Start() {
	go h.connectForever()
	log.L(context.Background()).Infof("[ws/heads] started (%s)", h.url)
}

// Stop closes the connection and all subscriber channels.
func (h *HeadWatcher) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		if h.conn != nil {
			_ = h.conn.Close()
		}
		h.mu.Unlock()
		<-h.done

		h.mu.Lock()
		for id, ch := range h.subs {
			close(ch)
			delete(h.subs, id)
		}
		h.mu.Unlock()
		log.L(context.Background()).Info("[ws/heads] stopped")
	})
}

// Subscribe registers for new block numbers. Call the returned func to
// unsubscribe.
func (h *HeadWatcher) Subscribe() (<-chan uint64, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan uint64, 1)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			close(c)
			delete(h.subs, id)
		}
	}
}

// Latest returns the highest block number seen so far (0 if none).
func (h *HeadWatcher) Latest() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// ── Internal ──────────────────────────────────────────────────────────────

func (h *HeadWatcher) stopped() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

func (h *HeadWatcher) connectForever() {
	defer close(h.done)
	for !h.stopped() {
		if err := h.listen(); err != nil && !h.stopped() {
			log.L(context.Background()).Warnf("[ws/heads] disconnected: %v, reconnecting in %s", err, reconnectDelay)
			select {
			case <-time.After(reconnectDelay):
			case <-h.stopCh:
			}
		}
	}
}

func (h *HeadWatcher) listen() error {
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	h.mu.Lock()
	if h.stopped() {
		h.mu.Unlock()
		return nil
	}
	h.conn = conn
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.conn = nil
		h.mu.Unlock()
	}()

	if err := conn.WriteJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	}); err != nil {
		return fmt.Errorf("send eth_subscribe: %w", err)
	}

	// Ping goroutine
	stopPing := make(chan struct{})
	go func() {
		tick := time.NewTicker(pingInterval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()
	defer close(stopPing)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := h.handleMessage(msg); err != nil {
			return err
		}
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcMessage struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

// handleMessage processes the subscribe response and head notifications.
// A subscribe error is fatal for the connection.
func (h *HeadWatcher) handleMessage(raw []byte) error {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.L(context.Background()).Debugf("[ws/heads] ignoring non-JSON message: %s", raw)
		return nil
	}
	if msg.ID != nil {
		if msg.Error != nil {
			return fmt.Errorf("eth_subscribe: %d %s", msg.Error.Code, msg.Error.Message)
		}
		log.L(context.Background()).Debugf("[ws/heads] subscribed: %s", msg.Result)
		return nil
	}
	if msg.Method != "eth_subscription" {
		return nil
	}
	n, err := parseHexUint(msg.Params.Result.Number)
	if err != nil {
		log.L(context.Background()).Debugf("[ws/heads] bad block number %q: %v", msg.Params.Result.Number, err)
		return nil
	}
	h.publish(n)
	return nil
}

func (h *HeadWatcher) publish(n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > h.latest {
		h.latest = n
	}
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func parseHexUint(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("missing 0x prefix")
	}
	return strconv.ParseUint(s[2:], 16, 64)
}
