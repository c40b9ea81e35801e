package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hedgebot/internal/pricecache"
	"hedgebot/pkg/exception"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func server(t *testing.T, handler func(*http.Request, *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(base string) Config {
	return Config{
		BaseURL:        base,
		Markets:        []string{"BTC"},
		ReconnectDelay: 10 * time.Millisecond,
		MaxReconnect:   20 * time.Millisecond,
		PingInterval:   50 * time.Millisecond,
		PongTimeout:    50 * time.Millisecond,
	}
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		desc string
		raw  string
		err  error
	}{
		{desc: "snapshot", raw: `{"ts":1701563440000,"type":"SNAPSHOT","data":{"m":"BTC-USD","b":[{"p":"25670","q":"0.1"}],"a":[{"p":"25770","q":"0.1"}]},"seq":1}`},
		{desc: "numeric levels", raw: `{"type":"DELTA","data":{"m":"BTC-USD","b":[{"p":25670.5,"q":1}],"a":[{"p":25671,"q":2}]}}`},
		{desc: "empty asks", raw: `{"type":"DELTA","data":{"m":"BTC-USD","b":[{"p":"1","q":"1"}],"a":[]}}`, err: exception.ErrMarketDataEmptyBook},
		{desc: "unknown type", raw: `{"type":"TRADE","data":{}}`, err: exception.ErrMarketDataUnknownType},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := decode([]byte(tc.raw))
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := decode([]byte("not json"))
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	f, err := New(testConfig("wss://api.example.com/"), pricecache.New(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/stream.extended.exchange/v1/orderbooks/BTC-USD?depth=1", f.URL("btc"))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Markets: []string{"BTC"}}, pricecache.New(time.Second))
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "ws://x"}, pricecache.New(time.Second))
	assert.ErrorIs(t, err, exception.ErrMarketDataNoMarkets)
	_, err = New(testConfig("ws://x"), nil)
	assert.ErrorIs(t, err, exception.ErrNilInstance)
	cfg := testConfig("ws://x")
	cfg.Proxies = []string{"::bad"}
	_, err = New(cfg, pricecache.New(time.Second))
	assert.Error(t, err)
}

func TestStreamWritesCache(t *testing.T) {
	var path atomic.Value
	_, base := server(t, func(r *http.Request, c *websocket.Conn) {
		path.Store(r.URL.RequestURI())
		frames := []string{
			`{"type":"TRADE","data":{}}`,
			`garbage`,
			`{"type":"DELTA","data":{"m":"BTC-USD","b":[],"a":[{"p":"1","q":"1"}]}}`,
			`{"ts":1,"type":"SNAPSHOT","data":{"m":"BTC-USD","b":[{"p":"25670","q":"0.1"}],"a":[{"p":"25770","q":"0.1"}]},"seq":1}`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	cache := pricecache.New(time.Second)
	f, err := New(testConfig(base), cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _, ok := cache.Prices("BTC", time.Second)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	bid, ask, _ := cache.Prices("BTC", time.Second)
	assert.True(t, bid.Equal(decimal.NewFromInt(25670)))
	assert.True(t, ask.Equal(decimal.NewFromInt(25770)))
	assert.Equal(t, "/stream.extended.exchange/v1/orderbooks/BTC-USD?depth=1", path.Load())
	assert.Equal(t, []string{"BTC"}, f.Connected())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	stats := f.Stats()
	assert.Equal(t, uint64(4), stats.Messages)
	assert.Equal(t, uint64(1), stats.Updates)
	assert.Equal(t, uint64(2), stats.Rejected)
	assert.Empty(t, f.Connected())
}

func TestReconnectsAfterServerClose(t *testing.T) {
	var connections atomic.Int64
	_, base := server(t, func(r *http.Request, c *websocket.Conn) {
		n := connections.Add(1)
		price := "100"
		if n > 1 {
			price = "200"
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"SNAPSHOT","data":{"m":"ETH-USD","b":[{"p":"`+price+`","q":"1"}],"a":[{"p":"201","q":"1"}]}}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	cache := pricecache.New(time.Second)
	cfg := testConfig(base)
	cfg.Markets = []string{"ETH-USD"}
	f, err := New(cfg, cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	require.Eventually(t, func() bool {
		bid, _, ok := cache.Prices("ETH", time.Second)
		return ok && bid.Equal(decimal.NewFromInt(200))
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, connections.Load(), int64(2))
	assert.Positive(t, f.Stats().Reconnects)
}

func TestBackoff(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	assert.Equal(t, 10*time.Millisecond, b.Next(0))
	assert.Equal(t, 20*time.Millisecond, b.Next(2))
	assert.Equal(t, 40*time.Millisecond, b.Next(3))
	assert.Equal(t, 50*time.Millisecond, b.Next(10))

	b.Jitter = 0.5
	for range 20 {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}
