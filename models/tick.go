package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange segment constants. The segment of an instrument is encoded in
// the low byte of its instrument token.
const (
	SegmentNSE     = 1
	SegmentNFO     = 2
	SegmentCDS     = 3
	SegmentBSE     = 4
	SegmentBFO     = 5
	SegmentBSECDS  = 6
	SegmentMCX     = 7
	SegmentMCXSX   = 8
	SegmentIndices = 9
)

// ExchangeMap maps exchange names to their segment codes.
var ExchangeMap = map[string]int{
	"nse":     SegmentNSE,
	"nfo":     SegmentNFO,
	"cds":     SegmentCDS,
	"bse":     SegmentBSE,
	"bfo":     SegmentBFO,
	"bsecds":  SegmentBSECDS,
	"mcx":     SegmentMCX,
	"mcxsx":   SegmentMCXSX,
	"indices": SegmentIndices,
}

// SegmentName resolves a segment code back to its exchange name. Unknown
// segments resolve to an empty string.
func SegmentName(segment int) string {
	for name, code := range ExchangeMap {
		if code == segment {
			return name
		}
	}
	return ""
}

// DepthEntry represents a single price level of the market depth.
type DepthEntry struct {
	Quantity uint32          `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Orders   uint16          `json:"orders"`
}

// MarketDepth holds the buy and sell levels of an instrument in wire
// order. The first five wire entries are buy levels, the rest sells.
type MarketDepth struct {
	Buy  []DepthEntry `json:"buy"`
	Sell []DepthEntry `json:"sell"`
}

// Tick is one decoded market-data update for an instrument.
type Tick struct {
	InstrumentToken uint32      `json:"instrument_token"`
	Segment         int         `json:"segment"`
	Exchange        string      `json:"exchange"`
	Tradable        bool        `json:"tradable"`
	LastTradeTime   *time.Time  `json:"last_trade_time"`
	OpenInterest    uint32      `json:"oi"`
	OIDayHigh       uint32      `json:"oi_day_high"`
	OIDayLow        uint32      `json:"oi_day_low"`
	Timestamp       *time.Time  `json:"timestamp"`
	Depth           MarketDepth `json:"depth"`
}

// Message represents a decoded non-binary feed frame, typically a control
// or heartbeat acknowledgement. Payload holds the parsed JSON value.
type Message struct {
	Payload  interface{}
	Received time.Time
}
