package aggregator

import (
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestTimeframeBounds(t *testing.T) {
	ts := time.Date(2026, 2, 28, 23, 41, 7, 0, time.UTC)

	hour := roundToHourStart(ts)
	assert.Equal(t, time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC).Unix(), hour)
	assert.Equal(t, hour+3599, getHourEnd(hour))

	day := roundToDayStart(ts)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC).Unix(), day)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix()-1, getDayEnd(day))
}

func TestRoundToHourStart_NonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, 6, 1, 1, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC).Unix(), roundToHourStart(ts))
}

func TestNewAggregateData(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix()
	agg := types.ReadDbAggregate{StartTime: start, TotalReads: 4, SuccessfulReads: 3}

	hourly := NewAggregateData(Hourly, agg, start+120)
	assert.Equal(t, start+3599, hourly.EndTime)
	assert.True(t, hourly.IsCurrentTimeframe)

	later := NewAggregateData(Hourly, agg, start+7200)
	assert.False(t, later.IsCurrentTimeframe)

	daily := NewAggregateData(Daily, agg, start+7200)
	assert.True(t, daily.IsCurrentTimeframe)
}
