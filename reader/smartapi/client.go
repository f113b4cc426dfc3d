package smartapi

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "smartfeed/config"
	"smartfeed/logger"
	"smartfeed/processor"
)

const (
	heartbeatInterval = 60 * time.Second
	writeTimeout      = 5 * time.Second

	// Outbound control frames are throttled to keep a misbehaving caller
	// from flooding the feed. Pings at PingInterval fit comfortably.
	writeRateLimit = rate.Limit(5)
	writeRateBurst = 5
)

// outFrame is one queued outbound frame. Every write to the socket,
// including pings and heartbeats, passes through the per-connection write
// queue so the socket only ever has a single writer.
type outFrame struct {
	messageType int
	payload     []byte
}

// Client maintains a persistent connection to the market-data feed. It
// dials, performs the subscribe exchange, keeps the connection alive and
// reconnects with capped exponential backoff until the retry budget runs
// out. Decoded ticks and messages are delivered through Handlers.
type Client struct {
	config   *appconfig.Config
	handlers Handlers
	log      *logger.Log
	dialer   *websocket.Dialer
	limiter  *rate.Limiter

	// Intervals are fields so tests can shrink them.
	pingInterval      time.Duration
	heartbeatInterval time.Duration
	backoffInitial    time.Duration

	mu         sync.RWMutex
	state      ConnState
	closing    bool
	retryCount int
	cancel     context.CancelFunc

	wg sync.WaitGroup
}

// NewClient validates the subscription task and builds a client. An invalid
// task is rejected here, before any network I/O. Reconnect bounds outside
// the supported range are clamped with a warning, matching LoadConfig.
func NewClient(cfg *appconfig.Config, handlers Handlers) (*Client, error) {
	if !IsValidTask(cfg.Feed.Task) {
		return nil, &ValidationError{Field: "feed.task", Err: ErrInvalidTask, Value: cfg.Feed.Task}
	}

	log := logger.GetLogger()
	if cfg.Feed.Reconnect.MaxTries > appconfig.MaxReconnectTries {
		log.WithComponent("smartapi_client").WithFields(logger.Fields{
			"max_tries": cfg.Feed.Reconnect.MaxTries, "clamped_to": appconfig.MaxReconnectTries,
		}).Warn("reconnect max_tries out of range")
		cfg.Feed.Reconnect.MaxTries = appconfig.MaxReconnectTries
	}
	if cfg.Feed.Reconnect.MaxDelay < appconfig.MinReconnectMaxDelay {
		log.WithComponent("smartapi_client").WithFields(logger.Fields{
			"max_delay": cfg.Feed.Reconnect.MaxDelay.String(), "clamped_to": appconfig.MinReconnectMaxDelay.String(),
		}).Warn("reconnect max_delay out of range")
		cfg.Feed.Reconnect.MaxDelay = appconfig.MinReconnectMaxDelay
	}

	connectTimeout := cfg.Feed.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: connectTimeout,
	}
	if cfg.Feed.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		config:            cfg,
		handlers:          handlers,
		log:               log,
		dialer:            dialer,
		limiter:           rate.NewLimiter(writeRateLimit, writeRateBurst),
		pingInterval:      PingInterval,
		heartbeatInterval: heartbeatInterval,
		backoffInitial:    1 * time.Second,
		state:             StateDisconnected,
	}, nil
}

// Connect starts the connection lifecycle. It is idempotent: calling it
// while a connection attempt or session is in progress is a no-op. The
// call never blocks on the handshake; the event loop goroutine owns the
// socket and invokes all handlers.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateOpen, StateReconnecting, StateClosing:
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateConnecting
	c.closing = false
	c.retryCount = 0
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Close cancels any pending reconnect, closes the active connection and
// settles the client in the disconnected state. It blocks until the event
// loop has fully stopped; no timer or callback fires afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.state = StateClosing
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

// newBackoff builds the reconnect delay source: exponential growth capped
// at the configured maximum. Randomization stays off so consecutive delays
// never shrink.
func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffInitial
	bo.RandomizationFactor = 0
	bo.Multiplier = 2.0
	bo.MaxInterval = c.config.Feed.Reconnect.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// run is the event loop. It owns the socket for the lifetime of the client
// and is the only goroutine that invokes handlers.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	log := c.log.WithComponent("smartapi_client")
	bo := c.newBackoff()

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		conn, resp, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			log.WithError(err).WithFields(logger.Fields{"url": c.config.Feed.URL}).Warn("connect attempt failed")
			if !c.waitRetry(ctx, bo, log) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.state = StateOpen
		c.retryCount = 0
		c.mu.Unlock()
		bo.Reset()

		session := uuid.New().String()
		slog := log.WithFields(logger.Fields{"session": session})
		slog.WithFields(logger.Fields{"url": c.config.Feed.URL, "task": c.config.Feed.Task}).Info("feed connected")

		if c.handlers.OnConnect != nil {
			c.handlers.OnConnect(c, resp)
		}

		code, reason := c.runSession(ctx, conn, slog)

		if c.isClosing() || ctx.Err() != nil {
			c.setState(StateDisconnected)
			slog.Info("feed connection closed by user")
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(c, code, reason)
			}
			return
		}

		slog.WithFields(logger.Fields{"code": code, "reason": reason}).Warn("feed connection lost")
		if c.handlers.OnError != nil {
			c.handlers.OnError(c, code, reason)
		}
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(c, code, reason)
		}

		if !c.waitRetry(ctx, bo, log) {
			return
		}
	}
}

// dial performs the transport handshake, bounded by the connect timeout. A
// timeout feeds the same backoff path as a lost connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialer.HandshakeTimeout)
	defer cancel()
	return c.dialer.DialContext(dialCtx, c.config.Feed.URL, nil)
}

// waitRetry applies the reconnect policy after a failed attempt or lost
// connection. It returns false when the loop must stop: retries exhausted
// (terminal failure) or the client context was cancelled during the wait.
func (c *Client) waitRetry(ctx context.Context, bo *backoff.ExponentialBackOff, log *logger.Entry) bool {
	c.mu.Lock()
	c.retryCount++
	attempt := c.retryCount
	maxTries := c.config.Feed.Reconnect.MaxTries
	c.mu.Unlock()

	if attempt > maxTries {
		c.setState(StateFailed)
		log.WithFields(logger.Fields{"max_tries": maxTries}).Error("reconnect attempts exhausted")
		if c.handlers.OnNoReconnect != nil {
			c.handlers.OnNoReconnect(c)
		}
		return false
	}

	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		delay = c.config.Feed.Reconnect.MaxDelay
	}

	c.setState(StateReconnecting)
	logger.IncrementReconnect()
	log.WithFields(logger.Fields{"attempt": attempt, "max_tries": maxTries, "delay": delay.String()}).Warn("scheduling reconnect")
	if c.handlers.OnReconnect != nil {
		c.handlers.OnReconnect(c, attempt)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return false
	case <-timer.C:
		return true
	}
}

// runSession drives one established connection: it wires the write queue,
// keepalive, subscribe exchange and heartbeat, then reads frames until the
// connection dies. It returns the close code and reason observed.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn, log *logger.Entry) (code int, reason string) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeQ := make(chan outFrame, 16)
	var writeWG sync.WaitGroup
	writeWG.Add(1)
	go c.writeLoop(sessionCtx, conn, writeQ, &writeWG, log)

	ka := newKeepalive(conn, c.pingInterval, log)
	conn.SetPongHandler(func(string) error {
		ka.pongReceived()
		return nil
	})
	ka.start(sessionCtx, writeQ)

	// Task validity is checked at construction, so a failure here can only
	// mean the session context is already gone.
	if err := c.sendSubscribe(sessionCtx, writeQ); err != nil {
		conn.Close()
		writeWG.Wait()
		return websocket.CloseAbnormalClosure, err.Error()
	}
	c.startHeartbeat(sessionCtx, writeQ)

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen(c)
	}

	// Unblock the read loop on shutdown: try a graceful close frame first,
	// then drop the transport.
	go func() {
		<-sessionCtx.Done()
		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}()

	code, reason = c.readLoop(conn, log)

	cancel()
	conn.Close()
	writeWG.Wait()
	return code, reason
}

// writeLoop is the only writer of the connection. It applies the outbound
// rate limit and a write deadline per frame. Failed writes are logged and
// swallowed; the read loop notices a dead connection soon enough.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, q <-chan outFrame, wg *sync.WaitGroup, log *logger.Entry) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-q:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			deadline := time.Now().Add(writeTimeout)
			var err error
			if frame.messageType == websocket.PingMessage {
				err = conn.WriteControl(websocket.PingMessage, frame.payload, deadline)
			} else {
				conn.SetWriteDeadline(deadline)
				err = conn.WriteMessage(frame.messageType, frame.payload)
			}
			if err != nil {
				log.WithError(err).Warn("feed write failed")
			}
		}
	}
}

// readLoop consumes frames until the connection dies and dispatches each
// one in receive order.
func (c *Client) readLoop(conn *websocket.Conn, log *logger.Entry) (code int, reason string) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code, ce.Text
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}
		c.dispatchFrame(messageType, payload, log)
	}
}

// dispatchFrame classifies one inbound frame and routes it to the matching
// decoder and the user callbacks. Decode failures drop the single frame,
// the connection stays open.
func (c *Client) dispatchFrame(messageType int, payload []byte, log *logger.Entry) {
	binary := messageType == websocket.BinaryMessage

	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(c, payload, binary)
	}

	if binary {
		logger.IncrementBinaryFrame(len(payload))
		ticks, err := processor.ParseBinaryTicks(payload)
		if err != nil {
			log.WithComponent("tick_decoder").WithError(err).Warn("dropping malformed binary frame")
			return
		}
		if len(ticks) == 0 {
			// Bare transport heartbeat.
			return
		}
		logger.IncrementTicks(len(ticks))
		if c.handlers.OnTicks != nil {
			c.handlers.OnTicks(c, ticks)
		}
		return
	}

	logger.IncrementTextFrame(len(payload))
	value, err := processor.ParseTextMessage(payload)
	if err != nil {
		log.WithComponent("text_decoder").WithError(err).Debug("dropping undecodable text frame")
		return
	}
	if c.handlers.OnTicks != nil {
		c.handlers.OnTicks(c, value)
	}
}

// enqueueFrame queues an outbound frame unless the session is shutting
// down.
func enqueueFrame(ctx context.Context, q chan<- outFrame, frame outFrame) bool {
	select {
	case q <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}
