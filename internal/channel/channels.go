package channel

import (
	"context"
	"sync"
	"time"

	"smartfeed/logger"
	"smartfeed/models"
)

type ChannelStats struct {
	TicksSent       int64
	MessagesSent    int64
	TicksDropped    int64
	MessagesDropped int64
}

// Channels carries decoded feed data from the client callbacks to the
// application consumers. Sends never block: when a consumer cannot keep
// up the batch is dropped and counted.
type Channels struct {
	Ticks    chan []models.Tick
	Messages chan models.Message

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(tickBufferSize, messageBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Ticks:    make(chan []models.Tick, tickBufferSize),
		Messages: make(chan models.Message, messageBufferSize),
		log:      log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer_size":    tickBufferSize,
		"message_buffer_size": messageBufferSize,
	}).Info("channels initialized")

	return c
}

// SendTicks forwards a decoded tick batch, dropping it when the buffer is
// full or the context is done.
func (c *Channels) SendTicks(ctx context.Context, ticks []models.Tick) bool {
	select {
	case c.Ticks <- ticks:
		c.incrementTicksSent()
		logger.RecordChannelMessage("ticks", len(ticks))
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementTicksDropped()
		return false
	}
}

// SendMessage forwards a decoded text message, dropping it when the buffer
// is full or the context is done.
func (c *Channels) SendMessage(ctx context.Context, msg models.Message) bool {
	select {
	case c.Messages <- msg:
		c.incrementMessagesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementMessagesDropped()
		return false
	}
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"ticks_sent":          stats.TicksSent,
		"messages_sent":       stats.MessagesSent,
		"ticks_dropped":       stats.TicksDropped,
		"messages_dropped":    stats.MessagesDropped,
		"tick_channel_len":    len(c.Ticks),
		"tick_channel_cap":    cap(c.Ticks),
		"message_channel_len": len(c.Messages),
		"message_channel_cap": cap(c.Messages),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Ticks)
	close(c.Messages)

	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) incrementTicksSent() {
	c.statsMutex.Lock()
	c.stats.TicksSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementMessagesSent() {
	c.statsMutex.Lock()
	c.stats.MessagesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementTicksDropped() {
	c.statsMutex.Lock()
	c.stats.TicksDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementMessagesDropped() {
	c.statsMutex.Lock()
	c.stats.MessagesDropped++
	c.statsMutex.Unlock()
}
