package feed

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hedgebot/internal/pricecache"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/gorilla/websocket"
	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"
)

const streamPath = "/stream.extended.exchange/v1/orderbooks/"

// Sink receives top-of-book updates. *pricecache.Cache implements it.
type Sink interface {
	Update(market string, bids, asks []pricecache.Level) bool
}

// Config controls the order-book streams.
type Config struct {
	// BaseURL is the websocket origin, e.g. wss://api.starknet.extended.exchange.
	BaseURL          string
	Markets          []string
	Depth            int
	ReconnectDelay   time.Duration
	MaxReconnect     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
	// Proxies are used round robin, one per connection attempt.
	Proxies []string
}

func DefaultConfig() Config {
	return Config{
		Depth:            1,
		ReconnectDelay:   2 * time.Second,
		MaxReconnect:     30 * time.Second,
		PingInterval:     15 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("feed base url is required")
	}
	if len(c.Markets) == 0 {
		return exception.ErrMarketDataNoMarkets
	}
	if c.Depth <= 0 {
		return fmt.Errorf("feed depth must be > 0")
	}
	if c.ReconnectDelay <= 0 || c.PingInterval <= 0 || c.PongTimeout <= 0 {
		return fmt.Errorf("feed reconnect delay, ping interval and pong timeout must be > 0")
	}
	return nil
}

// Stats counts stream activity.
type Stats struct {
	Connects   uint64
	Reconnects uint64
	Messages   uint64
	Updates    uint64
	Rejected   uint64
}

// Feed streams the top of book of every configured market into a Sink.
type Feed struct {
	cfg     Config
	sink    Sink
	proxies []*url.URL
	backoff Backoff

	proxyNext  atomic.Uint64
	connects   atomic.Uint64
	reconnects atomic.Uint64
	messages   atomic.Uint64
	updates    atomic.Uint64
	rejected   atomic.Uint64

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func New(cfg Config, sink Sink) (*Feed, error) {
	def := DefaultConfig()
	if cfg.Depth == 0 {
		cfg.Depth = def.Depth
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnect < cfg.ReconnectDelay {
		cfg.MaxReconnect = max(def.MaxReconnect, cfg.ReconnectDelay)
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, exception.ErrNilInstance
	}

	proxies := make([]*url.URL, 0, len(cfg.Proxies))
	for _, p := range cfg.Proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, yerrors.Errorf("invalid proxy url %q", p)
		}
		proxies = append(proxies, u)
	}

	return &Feed{
		cfg:     cfg,
		sink:    sink,
		proxies: proxies,
		backoff: Backoff{Min: cfg.ReconnectDelay, Max: cfg.MaxReconnect, Factor: 2, Jitter: 0.1},
		conns:   make(map[string]*websocket.Conn),
	}, nil
}

// URL returns the stream endpoint of market.
func (f *Feed) URL(market string) string {
	return f.cfg.BaseURL + streamPath + rules.Symbol(market) + "?depth=" + strconv.Itoa(f.cfg.Depth)
}

// Run streams every market until ctx is done or the process is shutting down.
func (f *Feed) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()

	var g errgroup.Group
	for _, m := range f.cfg.Markets {
		market := rules.Base(m)
		g.Go(func() error {
			f.stream(ctx, market)
			return nil
		})
	}
	return g.Wait()
}

func (f *Feed) Stats() Stats {
	return Stats{
		Connects:   f.connects.Load(),
		Reconnects: f.reconnects.Load(),
		Messages:   f.messages.Load(),
		Updates:    f.updates.Load(),
		Rejected:   f.rejected.Load(),
	}
}

// stream keeps one market connected, reconnecting after every failure.
func (f *Feed) stream(ctx context.Context, market string) {
	endpoint := f.URL(market)
	logs.Infof("feed %s started, url: %s", market, endpoint)
	defer logs.Infof("feed %s stopped", market)

	failures := 0
	for {
		received, err := f.session(ctx, market, endpoint)
		if ctx.Err() != nil {
			return
		}
		if received > 0 {
			failures = 0
		}
		failures++
		n := f.reconnects.Add(1)
		wait := f.backoff.Next(failures)
		logs.Warnf("feed %s disconnected, reconnect in %s, reconnects: %d, err: %v", market, wait, n, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection and returns the number of frames it received.
func (f *Feed) session(ctx context.Context, market, endpoint string) (int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: f.cfg.HandshakeTimeout,
		Proxy:            f.proxy(),
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return 0, yerrors.Wrapf(err, "dial %s, status: %d", market, resp.StatusCode)
		}
		return 0, yerrors.Wrapf(err, "dial %s", market)
	}
	f.connects.Add(1)
	f.track(market, conn)
	defer f.untrack(market)
	defer conn.Close()

	readWindow := f.cfg.PingInterval + f.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	done := make(chan struct{})
	defer close(done)
	go f.keepalive(ctx, conn, done)

	received := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return received, exception.ErrWebSocketConnectionClose
			}
			return received, yerrors.Wrapf(err, "read %s", market)
		}
		received++
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		f.handle(market, data)
	}
}

// keepalive pings until the session ends and closes the connection on ctx cancel.
func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.PongTimeout)); err != nil {
				logs.Debugf("feed ping failed, err: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (f *Feed) handle(market string, data []byte) {
	f.messages.Add(1)
	msg, err := decode(data)
	switch {
	case err == nil:
	case errors.Is(err, exception.ErrMarketDataEmptyBook):
		return
	case errors.Is(err, exception.ErrMarketDataUnknownType):
		logs.Debugf("feed %s unknown message type %q", market, msg.Type)
		f.rejected.Add(1)
		return
	default:
		logs.Errorf("feed %s decode message, err: %+v", market, err)
		f.rejected.Add(1)
		return
	}

	if msg.Data.Market != "" {
		market = rules.Base(msg.Data.Market)
	}
	if f.sink.Update(market, levels(msg.Data.Bids), levels(msg.Data.Asks)) {
		f.updates.Add(1)
	}
}

func (f *Feed) proxy() func(*http.Request) (*url.URL, error) {
	if len(f.proxies) == 0 {
		return nil
	}
	u := f.proxies[(f.proxyNext.Add(1)-1)%uint64(len(f.proxies))]
	return http.ProxyURL(u)
}

func (f *Feed) track(market string, conn *websocket.Conn) {
	f.mu.Lock()
	f.conns[market] = conn
	f.mu.Unlock()
}

func (f *Feed) untrack(market string) {
	f.mu.Lock()
	delete(f.conns, market)
	f.mu.Unlock()
}

// Connected lists markets with a live connection.
func (f *Feed) Connected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.conns))
}
