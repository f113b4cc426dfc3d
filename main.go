package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"smartfeed/config"
	"smartfeed/internal/channel"
	"smartfeed/logger"
	"smartfeed/models"
	"smartfeed/reader/smartapi"
)

const defaultConfigPath = "config/config.yml"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Smartfeed.Name,
		"version":     cfg.Smartfeed.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting smartfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	channels := channel.NewChannels(cfg.Channels.TickBuffer, cfg.Channels.MessageBuffer)
	defer channels.Close()
	channels.StartMetricsReporting(ctx)

	client, err := smartapi.NewClient(cfg, smartapi.Handlers{
		OnOpen: func(c *smartapi.Client) {
			log.WithComponent("feed").WithFields(logger.Fields{
				"task":    cfg.Feed.Task,
				"channel": cfg.Feed.Channel,
			}).Info("feed subscription active")
		},
		OnTicks: func(c *smartapi.Client, data interface{}) {
			switch v := data.(type) {
			case []models.Tick:
				if !channels.SendTicks(ctx, v) {
					log.WithComponent("feed").Warn("tick channel full, dropping batch")
				}
			default:
				channels.SendMessage(ctx, models.Message{Payload: v, Received: time.Now()})
			}
		},
		OnError: func(c *smartapi.Client, code int, reason string) {
			log.WithComponent("feed").WithFields(logger.Fields{"code": code, "reason": reason}).Warn("feed error")
		},
		OnClose: func(c *smartapi.Client, code int, reason string) {
			log.WithComponent("feed").WithFields(logger.Fields{"code": code, "reason": reason}).Info("feed closed")
		},
		OnReconnect: func(c *smartapi.Client, attempt int) {
			log.WithComponent("feed").WithFields(logger.Fields{"attempt": attempt}).Warn("feed reconnecting")
		},
		OnNoReconnect: func(c *smartapi.Client) {
			log.WithComponent("feed").Error("feed reconnect attempts exhausted, shutting down")
			cancel()
		},
	})
	if err != nil {
		log.WithError(err).Error("Failed to create feed client")
		os.Exit(1)
	}

	if err := client.Connect(ctx); err != nil {
		log.WithError(err).Error("Failed to start feed client")
		os.Exit(1)
	}

	go consumeTicks(ctx, channels, log)
	go consumeMessages(ctx, channels, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("received shutdown signal")
	case <-ctx.Done():
	}

	client.Close()
	log.Info("smartfeed stopped")
}

// consumeTicks drains decoded tick batches and logs a flow summary per
// batch. Persistence of ticks is intentionally out of scope; downstream
// systems hook in here.
func consumeTicks(ctx context.Context, channels *channel.Channels, log *logger.Log) {
	entry := log.WithComponent("tick_consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-channels.Ticks:
			if !ok {
				return
			}
			logger.LogDataFlowEntry(entry, "smartapi_client", "tick_consumer", len(batch), "ticks")
			for _, tick := range batch {
				entry.WithFields(logger.Fields{
					"instrument_token": tick.InstrumentToken,
					"exchange":         tick.Exchange,
					"tradable":         tick.Tradable,
					"buy_levels":       len(tick.Depth.Buy),
					"sell_levels":      len(tick.Depth.Sell),
				}).Debug("tick")
			}
		}
	}
}

// consumeMessages drains decoded text messages (heartbeat acks, control
// responses) and logs them.
func consumeMessages(ctx context.Context, channels *channel.Channels, log *logger.Log) {
	entry := log.WithComponent("message_consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channels.Messages:
			if !ok {
				return
			}
			entry.WithFields(logger.Fields{"payload": msg.Payload}).Debug("feed message")
		}
	}
}
