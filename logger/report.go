package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed   int64
	errorsDecode int64
	warnsFeed    int64
	warnsDecode  int64
	binaryFrames int64
	textFrames   int64
	ticksDecoded int64
	reconnects   int64
	channelStats sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "decoder") {
		atomic.AddInt64(&warnsDecode, 1)
	} else {
		atomic.AddInt64(&warnsFeed, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "decoder") {
		atomic.AddInt64(&errorsDecode, 1)
	} else {
		atomic.AddInt64(&errorsFeed, 1)
	}
}

// IncrementBinaryFrame records one received binary frame of the given size.
func IncrementBinaryFrame(size int) {
	atomic.AddInt64(&binaryFrames, 1)
	recordChannel("feed_binary", size)
}

// IncrementTextFrame records one received text frame of the given size.
func IncrementTextFrame(size int) {
	atomic.AddInt64(&textFrames, 1)
	recordChannel("feed_text", size)
}

// IncrementTicks records decoded ticks delivered downstream.
func IncrementTicks(count int) {
	atomic.AddInt64(&ticksDecoded, int64(count))
}

// IncrementReconnect records one reconnect attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// RecordChannelMessage tracks message counts and volume per named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channelStats.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and feed statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	channelData := map[string]map[string]int64{}
	channelStats.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_feed":   atomic.LoadInt64(&errorsFeed),
		"errors_decode": atomic.LoadInt64(&errorsDecode),
		"warns_feed":    atomic.LoadInt64(&warnsFeed),
		"warns_decode":  atomic.LoadInt64(&warnsDecode),
		"binary_frames": atomic.LoadInt64(&binaryFrames),
		"text_frames":   atomic.LoadInt64(&textFrames),
		"ticks_decoded": atomic.LoadInt64(&ticksDecoded),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"goroutines":    runtime.NumGoroutine(),
		"cpu_percent":   cpuPct,
		"memory_mb":     memMB,
		"channels":      channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsDecode"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_decode"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsDecode"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_decode"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("BinaryFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["binary_frames"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TextFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["text_frames"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TicksDecoded"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ticks_decoded"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
