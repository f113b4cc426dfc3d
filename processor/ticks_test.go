package processor

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartfeed/models"
)

// buildPacket assembles a tick packet of the given size for the given
// instrument token. Field values can then be patched in by offset.
func buildPacket(token uint32, size int) []byte {
	packet := make([]byte, size)
	binary.BigEndian.PutUint32(packet[0:4], token)
	return packet
}

// buildFrame wraps packets with the packet-count header and per-packet
// length prefixes.
func buildFrame(packets ...[]byte) []byte {
	frame := make([]byte, 2)
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(packets)))
	for _, packet := range packets {
		prefix := make([]byte, 2)
		binary.BigEndian.PutUint16(prefix, uint16(len(packet)))
		frame = append(frame, prefix...)
		frame = append(frame, packet...)
	}
	return frame
}

func TestParseBinaryTicksShortFrameIsHeartbeat(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, {0x01}} {
		ticks, err := ParseBinaryTicks(payload)
		require.NoError(t, err)
		assert.Empty(t, ticks)
	}
}

func TestSplitPacketsConsumesFrameExactly(t *testing.T) {
	p1 := buildPacket(0x0101, 64)
	p2 := buildPacket(0x0201, 76)
	p3 := buildPacket(0x0301, 184)
	frame := buildFrame(p1, p2, p3)

	packets, err := splitPackets(frame)
	require.NoError(t, err)
	require.Len(t, packets, 3)
	assert.Len(t, packets[0], 64)
	assert.Len(t, packets[1], 76)
	assert.Len(t, packets[2], 184)

	total := 0
	for _, p := range packets {
		total += len(p)
	}
	assert.Equal(t, len(frame)-2-2*len(packets), total)
}

func TestSplitPacketsTruncatedFrame(t *testing.T) {
	frame := buildFrame(buildPacket(1, 64))
	// Claim a second packet that is not there.
	binary.BigEndian.PutUint16(frame[0:2], 2)
	_, err := ParseBinaryTicks(frame)
	require.Error(t, err)

	// Length field running past the frame end.
	frame = buildFrame(buildPacket(1, 64))
	binary.BigEndian.PutUint16(frame[2:4], 200)
	_, err = ParseBinaryTicks(frame)
	require.Error(t, err)
}

func TestSegmentDerivation(t *testing.T) {
	cases := []struct {
		token    uint32
		segment  int
		exchange string
		tradable bool
	}{
		{0x00000001, models.SegmentNSE, "nse", true},
		{0x00000103, models.SegmentCDS, "cds", true},
		{0x00000209, models.SegmentIndices, "indices", false},
		{0x00000507, models.SegmentMCX, "mcx", true},
		{0x000000ff, 255, "", true},
	}

	for _, c := range cases {
		ticks, err := ParseBinaryTicks(buildFrame(buildPacket(c.token, 64)))
		require.NoError(t, err)
		require.Len(t, ticks, 1)
		assert.Equal(t, c.token, ticks[0].InstrumentToken)
		assert.Equal(t, c.segment, ticks[0].Segment)
		assert.Equal(t, c.exchange, ticks[0].Exchange)
		assert.Equal(t, c.tradable, ticks[0].Tradable)
	}
}

func TestPriceDivisorPerSegment(t *testing.T) {
	// Same raw price field decodes with a different divisor for CDS.
	raw := uint32(15000)

	nse := buildPacket(0x0001, 76)
	binary.BigEndian.PutUint32(nse[68:72], raw)
	cds := buildPacket(0x0003, 76)
	binary.BigEndian.PutUint32(cds[68:72], raw)

	ticks, err := ParseBinaryTicks(buildFrame(nse, cds))
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	require.Len(t, ticks[0].Depth.Buy, 1)
	assert.True(t, ticks[0].Depth.Buy[0].Price.Equal(decimal.RequireFromString("150.00")),
		"nse price = %s", ticks[0].Depth.Buy[0].Price)

	require.Len(t, ticks[1].Depth.Buy, 1)
	assert.True(t, ticks[1].Depth.Buy[0].Price.Equal(decimal.RequireFromString("0.0015")),
		"cds price = %s", ticks[1].Depth.Buy[0].Price)
}

func TestDepthSidesFollowWireOrder(t *testing.T) {
	// Twelve full depth entries: five land in buy, the rest in sell.
	packet := buildPacket(0x0001, 64+12*12)
	for i := 0; i < 12; i++ {
		p := 64 + i*12
		binary.BigEndian.PutUint32(packet[p:p+4], uint32(1000+i))
		binary.BigEndian.PutUint32(packet[p+4:p+8], uint32((i+1)*100))
		binary.BigEndian.PutUint16(packet[p+8:p+10], uint16(i+1))
	}

	ticks, err := ParseBinaryTicks(buildFrame(packet))
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	depth := ticks[0].Depth
	require.Len(t, depth.Buy, 5)
	require.Len(t, depth.Sell, 7)

	for i, entry := range depth.Buy {
		assert.Equal(t, uint32(1000+i), entry.Quantity)
		assert.Equal(t, uint16(i+1), entry.Orders)
	}
	// Wire order, not price order.
	assert.Equal(t, uint32(1005), depth.Sell[0].Quantity)
	assert.Equal(t, uint16(12), depth.Sell[6].Orders)
}

func TestDepthShortPacket(t *testing.T) {
	// 75 bytes cannot hold a single 12-byte entry past offset 64.
	ticks, err := ParseBinaryTicks(buildFrame(buildPacket(0x0001, 75)))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Empty(t, ticks[0].Depth.Buy)
	assert.Empty(t, ticks[0].Depth.Sell)

	// Below 64 bytes everything but the depth still decodes.
	ticks, err = ParseBinaryTicks(buildFrame(buildPacket(0x0001, 48)))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Empty(t, ticks[0].Depth.Buy)
	assert.Nil(t, ticks[0].Timestamp)
}

func TestOpenInterestAndTimestamps(t *testing.T) {
	packet := buildPacket(0x0001, 64)
	lastTrade := uint32(1_700_000_000)
	ts := uint32(1_700_000_060)
	binary.BigEndian.PutUint32(packet[44:48], lastTrade)
	binary.BigEndian.PutUint32(packet[48:52], 4200)
	binary.BigEndian.PutUint32(packet[52:56], 5000)
	binary.BigEndian.PutUint32(packet[56:60], 4000)
	binary.BigEndian.PutUint32(packet[60:64], ts)

	ticks, err := ParseBinaryTicks(buildFrame(packet))
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, uint32(4200), tick.OpenInterest)
	assert.Equal(t, uint32(5000), tick.OIDayHigh)
	assert.Equal(t, uint32(4000), tick.OIDayLow)
	require.NotNil(t, tick.LastTradeTime)
	assert.Equal(t, time.Unix(int64(lastTrade), 0), *tick.LastTradeTime)
	require.NotNil(t, tick.Timestamp)
	assert.Equal(t, time.Unix(int64(ts), 0), *tick.Timestamp)
}

func TestFreshTickPerPacket(t *testing.T) {
	// A packet with depth followed by one without: the second tick must
	// not inherit the first one's depth.
	withDepth := buildPacket(0x0001, 76)
	binary.BigEndian.PutUint32(withDepth[68:72], 15000)
	bare := buildPacket(0x0101, 64)

	ticks, err := ParseBinaryTicks(buildFrame(withDepth, bare))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Len(t, ticks[0].Depth.Buy, 1)
	assert.Empty(t, ticks[1].Depth.Buy)
}

func TestEndToEndSingleTick(t *testing.T) {
	// Header 0x0001, one 76-byte packet: token 1 (nse), price 15000 in
	// the first depth slot.
	packet := buildPacket(0x00000001, 76)
	binary.BigEndian.PutUint32(packet[68:72], 15000)
	frame := buildFrame(packet)

	ticks, err := ParseBinaryTicks(frame)
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, 1, tick.Segment)
	assert.Equal(t, "nse", tick.Exchange)
	assert.True(t, tick.Tradable)
	require.Len(t, tick.Depth.Buy, 1)
	assert.True(t, tick.Depth.Buy[0].Price.Equal(decimal.RequireFromString("150.00")),
		"price = %s", tick.Depth.Buy[0].Price)
}
