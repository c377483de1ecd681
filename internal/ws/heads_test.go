package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode accepts eth_subscribe and then pushes the given head numbers.
func fakeNode(t *testing.T, heads ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req rpcRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		assert.Equal(t, "eth_subscribe", req.Method)
		assert.Equal(t, []interface{}{"newHeads"}, req.Params)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0x9ce59a13059e417087c02d3236a0b1cc"}`))
		for _, n := range heads {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(
				`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x9ce59a13059e417087c02d3236a0b1cc","result":{"number":"`+n+`","hash":"0x01"}}}`))
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHeadWatcherDeliversHeads(t *testing.T) {
	srv := fakeNode(t, "0x10", "0x11")
	defer srv.Close()

	h := NewHeadWatcher(wsURL(srv))
	ch, cancel := h.Subscribe()
	defer cancel()
	h.Start()
	defer h.Stop()

	select {
	case n := <-ch:
		assert.Contains(t, []uint64{0x10, 0x11}, n)
	case <-time.After(5 * time.Second):
		t.Fatal("no head received")
	}
	assert.Eventually(t, func() bool { return h.Latest() == 0x11 }, 5*time.Second, 10*time.Millisecond)
}

func TestHeadWatcherStopClosesSubscribers(t *testing.T) {
	srv := fakeNode(t)
	defer srv.Close()

	h := NewHeadWatcher(wsURL(srv))
	ch, cancel := h.Subscribe()
	h.Start()
	h.Stop()

	_, ok := <-ch
	assert.False(t, ok)
	cancel() // no double close
}

func TestHandleMessage(t *testing.T) {
	h := NewHeadWatcher("ws://unused")
	ch, cancel := h.Subscribe()
	defer cancel()

	require.NoError(t, h.handleMessage([]byte(`not json`)))
	require.NoError(t, h.handleMessage([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"result":{"number":"zz"}}}`)))
	assert.Error(t, h.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"notifications not supported"}}`)))

	require.NoError(t, h.handleMessage([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"result":{"number":"0x2a"}}}`)))
	assert.Equal(t, uint64(42), <-ch)
	assert.Equal(t, uint64(42), h.Latest())
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint("0x1b4")
	require.NoError(t, err)
	assert.Equal(t, uint64(436), n)

	_, err = parseHexUint("436")
	assert.Error(t, err)
}
