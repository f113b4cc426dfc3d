package smartapi

import "net/http"

// Handlers is the fixed set of user callbacks wired into a client at
// construction time. Nil entries are skipped. All callbacks are invoked
// from the client's event loop goroutine, so no two callbacks for the same
// client ever run concurrently; a callback must not block for long or the
// feed read loop stalls behind it.
type Handlers struct {
	// OnConnect fires when the websocket handshake completes, before the
	// subscribe exchange.
	OnConnect func(c *Client, resp *http.Response)

	// OnOpen fires once the connection is live and the subscribe frames
	// have been queued.
	OnOpen func(c *Client)

	// OnMessage fires for every inbound frame with its raw payload.
	OnMessage func(c *Client, payload []byte, binary bool)

	// OnTicks fires with []models.Tick for binary frames and with the
	// parsed JSON value for text frames. Callers discriminate by type or
	// by the binary flag seen in OnMessage.
	OnTicks func(c *Client, data interface{})

	// OnClose fires exactly once per established connection when it ends,
	// whether by user close or transport failure.
	OnClose func(c *Client, code int, reason string)

	// OnError fires on transport failures before OnClose.
	OnError func(c *Client, code int, reason string)

	// OnReconnect fires before each scheduled reconnect attempt with the
	// current attempt count.
	OnReconnect func(c *Client, attempt int)

	// OnNoReconnect fires exactly once when the retry budget is exhausted.
	OnNoReconnect func(c *Client)
}
