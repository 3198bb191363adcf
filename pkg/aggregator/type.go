package aggregator

import "github.com/NotCoffee418/water_meter_mtu/pkg/types"

type Timeframe uint8

const (
	Hourly Timeframe = iota
	Daily
)

// AggregateData describes one timeframe bucket as served to status pages.
type AggregateData struct {
	Timeframe          Timeframe
	EndTime            int64
	IsCurrentTimeframe bool
	Aggregate          types.ReadDbAggregate
}

// NewAggregateData wraps a stored aggregate with its timeframe bounds.
func NewAggregateData(tf Timeframe, agg types.ReadDbAggregate, now int64) AggregateData {
	end := getHourEnd(agg.StartTime)
	if tf == Daily {
		end = getDayEnd(agg.StartTime)
	}
	return AggregateData{
		Timeframe:          tf,
		EndTime:            end,
		IsCurrentTimeframe: now >= agg.StartTime && now <= end,
		Aggregate:          agg,
	}
}
