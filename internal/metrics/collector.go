package metrics

import (
	"context"
	"time"
)

// Gauges is a point-in-time reading of the cache gauges.
type Gauges struct {
	Entries int
	HitRate float64
}

// Source produces the current gauge readings.
type Source func() Gauges

// Collector periodically collects and updates Prometheus gauges
type Collector struct {
	source   Source
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect takes a single reading and publishes it.
func (c *Collector) Collect() {
	if c.source == nil {
		return
	}
	g := c.source()
	CacheEntries.Set(float64(g.Entries))
	CacheHitRatio.Set(g.HitRate)
}
