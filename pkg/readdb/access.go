package readdb

import (
	"database/sql"
	"errors"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
)

// RecordFromEvent converts a feed event into its stored form. Events with an
// unparsable timestamp are stored at now.
func RecordFromEvent(ev *types.ReadEvent) *types.ReadDbRecord {
	ts := time.Now().UTC().Unix()
	if t, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		ts = t.Unix()
	}
	return &types.ReadDbRecord{
		Timestamp:   ts,
		Source:      ev.Source,
		Outcome:     ev.Outcome,
		Message:     ev.Message,
		Checksum:    ev.Checksum,
		Successful:  ev.Successful,
		Framing:     ev.Framing,
		BaudRate:    ev.BaudRate,
		ClockCycles: ev.ClockCycles,
		FrameErrors: ev.FrameErrors,
		DurationMs:  ev.DurationMs,
	}
}

func InsertReadRecord(record *types.ReadDbRecord) error {
	db, err := GetDB()
	if err != nil {
		return err
	}

	_, err = db.Exec(
		"INSERT INTO read_records "+
			"(timestamp, source, outcome, message, checksum, successful, framing, baud_rate, clock_cycles, frame_errors, duration_ms) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		record.Timestamp,
		record.Source,
		record.Outcome,
		record.Message,
		record.Checksum,
		record.Successful,
		record.Framing,
		record.BaudRate,
		int64(record.ClockCycles),
		int64(record.FrameErrors),
		record.DurationMs,
	)
	return err
}

// GetLatestReadRecord returns nil without error when nothing is stored yet.
func GetLatestReadRecord() (*types.ReadDbRecord, error) {
	db, err := GetDB()
	if err != nil {
		return nil, err
	}

	var r types.ReadDbRecord
	var clockCycles, frameErrors int64
	err = db.QueryRow(
		"SELECT timestamp, source, outcome, message, checksum, successful, framing, baud_rate, clock_cycles, frame_errors, duration_ms "+
			"FROM read_records ORDER BY timestamp DESC, id DESC LIMIT 1",
	).Scan(
		&r.Timestamp,
		&r.Source,
		&r.Outcome,
		&r.Message,
		&r.Checksum,
		&r.Successful,
		&r.Framing,
		&r.BaudRate,
		&clockCycles,
		&frameErrors,
		&r.DurationMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.ClockCycles = uint64(clockCycles)
	r.FrameErrors = uint64(frameErrors)
	return &r, nil
}
