package aggregator

import (
	"database/sql"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/readdb"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	log "github.com/sirupsen/logrus"
)

// Raw read records are kept this long once aggregated.
const retentionMonths = 3

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// getDayEnd returns the Unix timestamp of the last second of the day (next day start - 1)
func getDayEnd(dayStart int64) int64 {
	return time.Unix(dayStart, 0).UTC().AddDate(0, 0, 1).Unix() - 1
}

// summarizeReads builds the aggregate of all MTU reads in [start, end].
func summarizeReads(db *sql.DB, start, end int64) (*types.ReadDbAggregate, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN successful = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'timed_out' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(frame_errors), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM read_records
		WHERE source = ? AND outcome != 'stopped' AND timestamp >= ? AND timestamp <= ?
	`

	agg := &types.ReadDbAggregate{StartTime: start}
	var avgDuration float64
	var frameErrors int64
	err := db.QueryRow(query, types.SourceMtu, start, end).Scan(
		&agg.TotalReads,
		&agg.SuccessfulReads,
		&agg.TimedOutReads,
		&frameErrors,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}
	agg.CorruptedReads = agg.TotalReads - agg.SuccessfulReads
	agg.FrameErrors = uint64(frameErrors)
	agg.AvgDurationMs = int64(avgDuration)
	return agg, nil
}

// aggregateReadsHourly aggregates read records for a specific hour
func aggregateReadsHourly(db *sql.DB, hourStart int64) error {
	agg, err := summarizeReads(db, hourStart, getHourEnd(hourStart))
	if err != nil {
		return err
	}

	// Only insert if we have data
	if agg.TotalReads == 0 {
		return nil
	}

	insertQuery := `
		INSERT OR REPLACE INTO aggregate_reads_hourly
		(hour_start, total_reads, successful_reads, corrupted_reads, timed_out_reads, frame_errors, avg_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(insertQuery, agg.StartTime, agg.TotalReads, agg.SuccessfulReads,
		agg.CorruptedReads, agg.TimedOutReads, int64(agg.FrameErrors), agg.AvgDurationMs)
	return err
}

// aggregateReadsDaily aggregates read records for a specific day
func aggregateReadsDaily(db *sql.DB, dayStart int64) error {
	agg, err := summarizeReads(db, dayStart, getDayEnd(dayStart))
	if err != nil {
		return err
	}

	if agg.TotalReads == 0 {
		return nil
	}

	insertQuery := `
		INSERT OR REPLACE INTO aggregate_reads_daily
		(day_start, total_reads, successful_reads, corrupted_reads, timed_out_reads, frame_errors, avg_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(insertQuery, agg.StartTime, agg.TotalReads, agg.SuccessfulReads,
		agg.CorruptedReads, agg.TimedOutReads, int64(agg.FrameErrors), agg.AvgDurationMs)
	return err
}

// cleanupOldData removes raw records older than the retention window if we
// have aggregated past it
func cleanupOldData(db *sql.DB, now time.Time) error {
	cutoff := now.UTC().AddDate(0, -retentionMonths, 0)
	cutoffTimestamp := cutoff.Unix()

	// Check if we have aggregated data up to the cutoff point
	var lastAggregateHour sql.NullInt64
	if err := db.QueryRow("SELECT MAX(hour_start) FROM aggregate_reads_hourly").Scan(&lastAggregateHour); err != nil {
		return err
	}
	if !lastAggregateHour.Valid || lastAggregateHour.Int64 < cutoffTimestamp {
		// We haven't aggregated enough data yet, don't clean up
		return nil
	}

	res, err := db.Exec("DELETE FROM read_records WHERE timestamp < ?", cutoffTimestamp)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Infof("Cleaned up %d read records older than %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}

// AggregateAndCleanup performs all aggregation and cleanup tasks.
// This is the main function to call for data aggregation
func AggregateAndCleanup() error {
	db, err := readdb.GetDB()
	if err != nil {
		return err
	}
	return aggregateAt(db, time.Now().UTC())
}

func aggregateAt(db *sql.DB, now time.Time) error {
	// Aggregate the previous hour (current hour is still ongoing)
	hourStart := roundToHourStart(now.Add(-time.Hour))
	log.Infof("Aggregating reads for hour starting at %s", time.Unix(hourStart, 0).UTC().Format(time.RFC3339))

	if err := aggregateReadsHourly(db, hourStart); err != nil {
		log.Errorf("Error aggregating hourly reads: %v", err)
		return err
	}

	// Aggregate the previous day if it's a new day
	if now.Hour() == 0 {
		dayStart := roundToDayStart(now.AddDate(0, 0, -1))
		log.Infof("Aggregating reads for day starting at %s", time.Unix(dayStart, 0).UTC().Format(time.RFC3339))

		if err := aggregateReadsDaily(db, dayStart); err != nil {
			log.Errorf("Error aggregating daily reads: %v", err)
			return err
		}
	}

	if err := cleanupOldData(db, now); err != nil {
		log.Errorf("Error cleaning up old data: %v", err)
		return err
	}

	log.Debug("Aggregation and cleanup completed successfully")
	return nil
}

// GetHourlyAggregates returns the stored hourly aggregates from since on,
// oldest first.
func GetHourlyAggregates(since time.Time) ([]types.ReadDbAggregateHourly, error) {
	db, err := readdb.GetDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT hour_start, total_reads, successful_reads, corrupted_reads, timed_out_reads, frame_errors, avg_duration_ms
		FROM aggregate_reads_hourly
		WHERE hour_start >= ?
		ORDER BY hour_start
	`, roundToHourStart(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ReadDbAggregateHourly
	for rows.Next() {
		var a types.ReadDbAggregateHourly
		var frameErrors int64
		if err := rows.Scan(&a.StartTime, &a.TotalReads, &a.SuccessfulReads, &a.CorruptedReads,
			&a.TimedOutReads, &frameErrors, &a.AvgDurationMs); err != nil {
			return nil, err
		}
		a.FrameErrors = uint64(frameErrors)
		out = append(out, a)
	}
	return out, rows.Err()
}
