package types

type ReadDbRecord struct {
	Timestamp   int64      `db:"timestamp"`
	Source      ReadSource `db:"source"`
	Outcome     string     `db:"outcome"`
	Message     string     `db:"message"`
	Checksum    string     `db:"checksum"`
	Successful  bool       `db:"successful"`
	Framing     string     `db:"framing"`
	BaudRate    uint32     `db:"baud_rate"`
	ClockCycles uint64     `db:"clock_cycles"`
	FrameErrors uint64     `db:"frame_errors"`
	DurationMs  int64      `db:"duration_ms"`
}

// Aggregate of the records within one timeframe.
// Use timeframe specified types instead of this directly
type ReadDbAggregate struct {
	StartTime       int64  `db:"start_time"`
	TotalReads      uint32 `db:"total_reads"`
	SuccessfulReads uint32 `db:"successful_reads"`
	CorruptedReads  uint32 `db:"corrupted_reads"`
	TimedOutReads   uint32 `db:"timed_out_reads"`
	FrameErrors     uint64 `db:"frame_errors"`
	AvgDurationMs   int64  `db:"avg_duration_ms"`
}

type ReadDbAggregateHourly = ReadDbAggregate
type ReadDbAggregateDaily = ReadDbAggregate
