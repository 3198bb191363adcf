// Responsible for storing the reads published by the MTU API.
// Depends on the MTU API being online.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/aggregator"
	"github.com/NotCoffee418/water_meter_mtu/pkg/config"
	"github.com/NotCoffee418/water_meter_mtu/pkg/logging"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtuutils"
	"github.com/NotCoffee418/water_meter_mtu/pkg/pathing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readdb"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readfeed"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	// Load config
	if err := config.LoadReadCollectorConfig(); err != nil {
		log.Fatalf("Failed to load read collector config: %v", err)
	}
	cfg := config.ActiveReadCollectorConfig
	if err := logging.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Initialize database
	if cfg.DatabasePath != "" {
		readdb.SetPath(cfg.DatabasePath)
	}
	if err := readdb.InitializeDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runAggregator(ctx)

	// Subscribe to websocket with revive
	c := &collector{}
	if last, err := readdb.GetLatestReadRecord(); err != nil {
		log.Warnf("Could not load latest stored read: %v", err)
	} else if last != nil {
		c.last = recordKey(last.Source, time.Unix(last.Timestamp, 0).UTC().Format(time.RFC3339))
		log.Infof("Latest stored read: %s %s at %s", last.Source, last.Outcome, time.Unix(last.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	if err := readfeed.StartListener(ctx, cfg.MtuAPIHost, cfg.TLSEnabled, c.handleRead); err != nil {
		log.Fatalf("Read feed listener stopped: %v", err)
	}
	log.Info("Read collector stopped")
}

// collector skips the replay of the latest read sent on every reconnect.
type collector struct {
	mu   sync.Mutex
	last string
}

func (c *collector) handleRead(ev *types.ReadEvent) {
	key := recordKey(ev.Source, ev.Timestamp)
	c.mu.Lock()
	dup := key == c.last
	c.last = key
	c.mu.Unlock()
	if dup {
		return
	}

	if err := readdb.InsertReadRecord(readdb.RecordFromEvent(ev)); err != nil {
		log.Errorf("Failed to store read: %v", err)
		return
	}
	log.Debugf("Stored %s read (%s, %q)", ev.Source, ev.Outcome, ev.Message)
}

func recordKey(src types.ReadSource, timestamp string) string {
	return string(src) + "|" + timestamp
}

// runAggregator aggregates at the start of every hour.
func runAggregator(ctx context.Context) {
	for {
		next := time.Now().Truncate(time.Hour).Add(time.Hour + time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if err := aggregator.AggregateAndCleanup(); err != nil {
			log.Errorf("Aggregation failed: %v", err)
			continue
		}
		logLastHour()
	}
}

func logLastHour() {
	now := time.Now().UTC()
	aggs, err := aggregator.GetHourlyAggregates(now.Add(-time.Hour))
	if err != nil {
		log.Errorf("Could not load hourly aggregates: %v", err)
		return
	}
	for _, agg := range aggs {
		d := aggregator.NewAggregateData(aggregator.Hourly, agg, now.Unix())
		if d.IsCurrentTimeframe {
			continue
		}
		log.Infof("Hour %s: %d reads, %.1f%% successful, %d timed out, %d frame errors",
			time.Unix(agg.StartTime, 0).UTC().Format(time.RFC3339),
			agg.TotalReads,
			mtuutils.SuccessRate(agg.SuccessfulReads, agg.CorruptedReads),
			agg.TimedOutReads,
			agg.FrameErrors,
		)
	}
}
