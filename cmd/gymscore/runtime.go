package main

import (
	"context"
	"runtime"
	"time"

	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const (
	metricsInterval           = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// statser is the part of the service the metrics loop reads.
type statser interface {
	Stats(ctx context.Context) map[string]any
}

// runSystemMetrics refreshes process and service gauges until ctx is done.
func runSystemMetrics(ctx context.Context, svc statser) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond)
	}
}

func updateServiceMetrics(ctx context.Context, svc statser) {
	stats := svc.Stats(ctx)
	if n, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["workers"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
	if n, ok := stats["idempotencyKeys"].(int64); ok {
		metrics.UpdateDedupeSize(n)
	}
}
