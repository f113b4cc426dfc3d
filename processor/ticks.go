package processor

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smartfeed/models"
)

const (
	// Byte layout of a single tick packet.
	tokenOffset         = 0
	lastTradeTimeOffset = 44
	openInterestOffset  = 48
	oiDayHighOffset     = 52
	oiDayLowOffset      = 56
	timestampOffset     = 60
	depthOffset         = 64
	depthEntrySize      = 12

	// The first five depth entries in wire order are buy levels, the rest
	// are sell levels.
	depthBuyLevels = 5
)

// ParseBinaryTicks decodes one binary feed frame into a list of ticks.
// Frames shorter than two bytes are bare heartbeats and decode to an empty
// list. A malformed frame yields an error; the caller drops the frame and
// keeps the connection open.
func ParseBinaryTicks(payload []byte) ([]models.Tick, error) {
	packets, err := splitPackets(payload)
	if err != nil {
		return nil, err
	}

	ticks := make([]models.Tick, 0, len(packets))
	for i, packet := range packets {
		tick, err := parsePacket(packet)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// splitPackets splits a frame into individual tick packets. The frame
// starts with a big-endian uint16 packet count followed by repeated
// (uint16 length, payload) entries.
func splitPackets(payload []byte) ([][]byte, error) {
	if len(payload) < 2 {
		return nil, nil
	}

	count := int(binary.BigEndian.Uint16(payload[0:2]))
	packets := make([][]byte, 0, count)

	j := 2
	for i := 0; i < count; i++ {
		if j+2 > len(payload) {
			return nil, fmt.Errorf("frame truncated: missing length of packet %d", i)
		}
		length := int(binary.BigEndian.Uint16(payload[j : j+2]))
		if j+2+length > len(payload) {
			return nil, fmt.Errorf("frame truncated: packet %d runs past frame end", i)
		}
		packets = append(packets, payload[j+2:j+2+length])
		j += 2 + length
	}
	return packets, nil
}

// parsePacket decodes a single tick packet. Every packet gets a fresh tick;
// fields whose bytes are missing stay at their zero value, timestamps stay
// nil. A packet shorter than 64 bytes simply carries no market depth.
func parsePacket(packet []byte) (models.Tick, error) {
	if len(packet) < 4 {
		return models.Tick{}, fmt.Errorf("packet too short for instrument token: %d bytes", len(packet))
	}

	token := binary.BigEndian.Uint32(packet[tokenOffset : tokenOffset+4])
	segment := int(token & 0xff)

	// CDS prices carry seven decimal places on the wire, everything else two.
	exponent := int32(-2)
	if segment == models.SegmentCDS {
		exponent = -7
	}

	tick := models.Tick{
		InstrumentToken: token,
		Segment:         segment,
		Exchange:        models.SegmentName(segment),
		Tradable:        segment != models.SegmentIndices,
		LastTradeTime:   unpackTime(packet, lastTradeTimeOffset),
		OpenInterest:    unpackUint32(packet, openInterestOffset),
		OIDayHigh:       unpackUint32(packet, oiDayHighOffset),
		OIDayLow:        unpackUint32(packet, oiDayLowOffset),
		Timestamp:       unpackTime(packet, timestampOffset),
	}

	for i, p := 0, depthOffset; p+depthEntrySize <= len(packet); i, p = i+1, p+depthEntrySize {
		entry := models.DepthEntry{
			Quantity: binary.BigEndian.Uint32(packet[p : p+4]),
			Price:    decimal.New(int64(binary.BigEndian.Uint32(packet[p+4:p+8])), exponent),
			Orders:   binary.BigEndian.Uint16(packet[p+8 : p+10]),
		}
		if i < depthBuyLevels {
			tick.Depth.Buy = append(tick.Depth.Buy, entry)
		} else {
			tick.Depth.Sell = append(tick.Depth.Sell, entry)
		}
	}

	return tick, nil
}

// unpackUint32 reads a big-endian uint32 at the given offset, returning 0
// when the packet is too short to hold it.
func unpackUint32(packet []byte, offset int) uint32 {
	if offset+4 > len(packet) {
		return 0
	}
	return binary.BigEndian.Uint32(packet[offset : offset+4])
}

// unpackTime reads a big-endian uint32 unix timestamp at the given offset.
// Missing bytes decode to nil rather than an error.
func unpackTime(packet []byte, offset int) *time.Time {
	if offset+4 > len(packet) {
		return nil
	}
	ts := time.Unix(int64(binary.BigEndian.Uint32(packet[offset:offset+4])), 0)
	return &ts
}
