package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StatsRow is one per-minute aggregate for a single dimension value. Key is
// unused for the global table, which is keyed by minute alone.
type StatsRow struct {
	Minute           time.Time
	Key              string
	SessionsStarted  int64
	SessionsClosed   int64
	TotalBytes       int64
	BandwidthBPS     int64
	WatchTimeSeconds int64
	UniqueUsers      int64
	PeakConcurrent   int64
}

// StatsTable identifies one aggregate table. KeyColumn is empty for the
// global table.
type StatsTable struct {
	Name      string
	KeyColumn string
}

var (
	TableGlobal      = StatsTable{Name: "stats_global"}
	TableByServer    = StatsTable{Name: "stats_by_server", KeyColumn: "server"}
	TableByChannel   = StatsTable{Name: "stats_by_channel", KeyColumn: "channel"}
	TableByCountry   = StatsTable{Name: "stats_by_country", KeyColumn: "country"}
	TableByProtocol  = StatsTable{Name: "stats_by_protocol", KeyColumn: "protocol"}
	TableByUserAgent = StatsTable{Name: "stats_by_user_agent", KeyColumn: "user_agent_class"}
)

// metricColumns are the counter columns shared by every aggregate table.
var metricColumns = []string{
	"sessions_started",
	"sessions_closed",
	"total_bytes",
	"bandwidth_bps",
	"watch_time_seconds",
	"unique_users",
	"peak_concurrent",
}

// UpsertStats writes one minute's rows into a single aggregate table as one
// multi-row statement. Replaying the same rows overwrites them with equal
// values, so retries after a half-applied write converge.
func (db *DB) UpsertStats(ctx context.Context, table StatsTable, rows []StatsRow) error {
	if len(rows) == 0 {
		return nil
	}

	minutes := make([]time.Time, len(rows))
	keys := make([]string, len(rows))
	started := make([]int64, len(rows))
	closedCounts := make([]int64, len(rows))
	totalBytes := make([]int64, len(rows))
	bandwidth := make([]int64, len(rows))
	watchSeconds := make([]int64, len(rows))
	uniqueUsers := make([]int64, len(rows))
	peaks := make([]int64, len(rows))
	for i, r := range rows {
		minutes[i] = r.Minute
		keys[i] = r.Key
		started[i] = r.SessionsStarted
		closedCounts[i] = r.SessionsClosed
		totalBytes[i] = r.TotalBytes
		bandwidth[i] = r.BandwidthBPS
		watchSeconds[i] = r.WatchTimeSeconds
		uniqueUsers[i] = r.UniqueUsers
		peaks[i] = r.PeakConcurrent
	}

	var err error
	if table.KeyColumn == "" {
		_, err = db.Pool.Exec(ctx, upsertGlobalSQL(table),
			minutes, started, closedCounts, totalBytes, bandwidth,
			watchSeconds, uniqueUsers, peaks)
	} else {
		_, err = db.Pool.Exec(ctx, upsertBreakdownSQL(table),
			minutes, keys, started, closedCounts, totalBytes, bandwidth,
			watchSeconds, uniqueUsers, peaks)
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table.Name, err)
	}
	return nil
}

// Table names come from the fixed StatsTable vars above, never from input,
// so building the statement with Sprintf is safe.
func upsertGlobalSQL(t StatsTable) string {
	cols := append([]string{"minute"}, metricColumns...)
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT * FROM unnest(
			$1::timestamptz[], $2::bigint[], $3::bigint[], $4::bigint[],
			$5::bigint[], $6::bigint[], $7::bigint[], $8::bigint[])
		ON CONFLICT (minute) DO UPDATE SET
			%s`,
		t.Name, strings.Join(cols, ", "), excludedAssignments())
}

func upsertBreakdownSQL(t StatsTable) string {
	cols := append([]string{"minute", t.KeyColumn}, metricColumns...)
	return fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT * FROM unnest(
			$1::timestamptz[], $2::text[], $3::bigint[], $4::bigint[], $5::bigint[],
			$6::bigint[], $7::bigint[], $8::bigint[], $9::bigint[])
		ON CONFLICT (minute, %s) DO UPDATE SET
			%s`,
		t.Name, strings.Join(cols, ", "), t.KeyColumn, excludedAssignments())
}

func excludedAssignments() string {
	parts := make([]string, len(metricColumns))
	for i, c := range metricColumns {
		parts[i] = c + " = EXCLUDED." + c
	}
	return strings.Join(parts, ", ")
}
