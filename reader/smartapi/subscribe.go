package smartapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Subscription task identifiers understood by the feed.
const (
	TaskMarketWatch = "mw"
	TaskScripFeed   = "sfi"
	TaskDepth       = "dp"

	taskConnect   = "cn"
	taskHeartbeat = "hb"
)

// ErrInvalidTask is returned when the configured subscription task is not
// one of mw, sfi or dp. The error is raised before any frame is sent.
var ErrInvalidTask = errors.New("invalid subscription task")

// ValidationError reports a configuration value rejected synchronously,
// before any network I/O takes place.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v: %q", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidTask reports whether task names a supported subscription mode.
func IsValidTask(task string) bool {
	switch task {
	case TaskMarketWatch, TaskScripFeed, TaskDepth:
		return true
	default:
		return false
	}
}

// request is the JSON control frame sent to the feed as UTF-8 text.
type request struct {
	Task    string `json:"task"`
	Channel string `json:"channel"`
	Token   string `json:"token"`
	User    string `json:"user"`
	AcctID  string `json:"acctid"`
}

func (c *Client) controlFrame(task, channel string) []byte {
	payload, _ := json.Marshal(request{
		Task:    task,
		Channel: channel,
		Token:   c.config.Feed.FeedToken,
		User:    c.config.Feed.ClientCode,
		AcctID:  c.config.Feed.ClientCode,
	})
	return payload
}

// subscribeFrames builds the connect and subscribe frames, in the order the
// feed expects them. An invalid task yields an error and no frames.
func (c *Client) subscribeFrames() ([][]byte, error) {
	task := c.config.Feed.Task
	if !IsValidTask(task) {
		return nil, fmt.Errorf("%w: %q (expected mw, sfi or dp)", ErrInvalidTask, task)
	}
	return [][]byte{
		c.controlFrame(taskConnect, ""),
		c.controlFrame(task, c.config.Feed.Channel),
	}, nil
}

// sendSubscribe queues the connect and subscribe frames on the serialized
// write queue of the current connection.
func (c *Client) sendSubscribe(ctx context.Context, q chan<- outFrame) error {
	frames, err := c.subscribeFrames()
	if err != nil {
		return err
	}
	for _, payload := range frames {
		if !enqueueFrame(ctx, q, outFrame{messageType: websocket.TextMessage, payload: payload}) {
			return ctx.Err()
		}
	}
	return nil
}

// startHeartbeat periodically queues an application-level heartbeat frame
// for as long as the connection is up. Heartbeats share the write queue
// with every other outbound frame; a failed send is logged by the write
// loop and otherwise ignored, the pong watchdog is the authoritative
// liveness signal.
func (c *Client) startHeartbeat(ctx context.Context, q chan<- outFrame) {
	payload := c.controlFrame(taskHeartbeat, "")
	go func() {
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !enqueueFrame(ctx, q, outFrame{messageType: websocket.TextMessage, payload: payload}) {
					return
				}
			}
		}
	}()
}
