package aggregator

import (
	"time"

	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/sessions"
)

// dimTables maps each dimension to its aggregate table.
var dimTables = [sessions.NumDimensions]database.StatsTable{
	sessions.DimGlobal:         database.TableGlobal,
	sessions.DimServer:         database.TableByServer,
	sessions.DimChannel:        database.TableByChannel,
	sessions.DimCountry:        database.TableByCountry,
	sessions.DimProtocol:       database.TableByProtocol,
	sessions.DimUserAgentClass: database.TableByUserAgent,
}

// tableRows pairs one dimension table with the rows destined for it.
type tableRows struct {
	table database.StatsTable
	rows  []database.StatsRow
}

// accum folds the delta-derived counters for one bucket key.
type accum struct {
	started int64
	closed  int64
	bytes   int64
	watch   time.Duration
}

// buildRows derives one row per (dimension, key) from a finished bucket and
// its deltas. A key appears if any delta touched it or the bucket tracked a
// peak or viewers for it. The global table always receives a row, even for
// an idle minute, so the series has no gaps.
func buildRows(minute time.Time, bucket *sessions.Bucket, deltas []sessions.Delta, interval time.Duration) []tableRows {
	seconds := int64(interval / time.Second)
	if seconds <= 0 {
		seconds = 60
	}

	out := make([]tableRows, 0, sessions.NumDimensions)
	for dim := sessions.Dimension(0); dim < sessions.NumDimensions; dim++ {
		folded := make(map[string]*accum)
		for i := range deltas {
			d := &deltas[i]
			key := d.Key(dim)
			acc := folded[key]
			if acc == nil {
				acc = &accum{}
				folded[key] = acc
			}
			switch d.Kind {
			case sessions.DeltaOpened:
				acc.started++
			case sessions.DeltaClosed:
				acc.closed++
				acc.bytes += d.Bytes
				acc.watch += d.WatchTime
			}
		}

		keys := make(map[string]struct{}, len(folded))
		for k := range folded {
			keys[k] = struct{}{}
		}
		for k := range bucket.Peaks[dim] {
			keys[k] = struct{}{}
		}
		for k := range bucket.Users[dim] {
			keys[k] = struct{}{}
		}
		if dim == sessions.DimGlobal {
			keys[""] = struct{}{}
		}

		rows := make([]database.StatsRow, 0, len(keys))
		for k := range keys {
			acc := folded[k]
			if acc == nil {
				acc = &accum{}
			}
			rows = append(rows, database.StatsRow{
				Minute:           minute,
				Key:              k,
				SessionsStarted:  acc.started,
				SessionsClosed:   acc.closed,
				TotalBytes:       acc.bytes,
				BandwidthBPS:     acc.bytes / seconds,
				WatchTimeSeconds: int64(acc.watch / time.Second),
				UniqueUsers:      bucket.Users[dim][k].Estimate(),
				PeakConcurrent:   int64(bucket.Peaks[dim][k]),
			})
		}
		out = append(out, tableRows{table: dimTables[dim], rows: rows})
	}
	return out
}
