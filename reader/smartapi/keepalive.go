package smartapi

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"smartfeed/logger"
)

// PingInterval is the period of the protocol-level ping loop. The pong
// watchdog runs at the same period and drops the connection when no pong
// arrived within twice this interval.
const PingInterval = 2500 * time.Millisecond

// keepalive guards a single connection against going ghost: a peer that
// stopped responding without ever signalling closure. It never invokes
// user callbacks; its only actions are queueing pings and aborting the
// connection so the lifecycle manager re-enters the reconnect path.
type keepalive struct {
	conn     *websocket.Conn
	interval time.Duration
	log      *logger.Entry

	lastPing atomic.Int64 // unix nanos of the last ping sent
	lastPong atomic.Int64 // unix nanos of the last pong seen, 0 = never
}

func newKeepalive(conn *websocket.Conn, interval time.Duration, log *logger.Entry) *keepalive {
	if interval <= 0 {
		interval = PingInterval
	}
	return &keepalive{conn: conn, interval: interval, log: log}
}

// pongReceived records the arrival of a pong. Gorilla invokes the pong
// handler from the read loop, so the store is the only cross-goroutine
// touch point.
func (k *keepalive) pongReceived() {
	k.lastPong.Store(time.Now().UnixNano())
}

// start launches the ping loop and the pong watchdog. Both stop when ctx is
// cancelled and never fire afterwards.
func (k *keepalive) start(ctx context.Context, q chan<- outFrame) {
	go k.pingLoop(ctx, q)
	go k.watchdog(ctx)
}

func (k *keepalive) pingLoop(ctx context.Context, q chan<- outFrame) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.lastPing.Store(time.Now().UnixNano())
			if !enqueueFrame(ctx, q, outFrame{messageType: websocket.PingMessage}) {
				return
			}
		}
	}
}

// watchdog checks pong freshness every interval. Before the first pong it
// takes no action, the connection gets a grace period while the handshake
// settles. Once pongs have been seen, a stale one forces an abort rather
// than a graceful close.
func (k *keepalive) watchdog(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := k.lastPong.Load()
			if last == 0 {
				continue
			}
			stale := time.Since(time.Unix(0, last))
			if stale > 2*k.interval {
				k.log.WithFields(logger.Fields{"last_pong_ago": stale.Seconds()}).Warn("no pong received, dropping connection")
				k.conn.Close()
				return
			}
		}
	}
}
