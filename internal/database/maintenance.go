package database

import (
	"context"
	"fmt"
	"time"
)

// statsTables lists every per-minute aggregate table, used when a maintenance
// operation has to touch all of them.
var statsTables = []StatsTable{
	TableGlobal,
	TableByServer,
	TableByChannel,
	TableByCountry,
	TableByProtocol,
	TableByUserAgent,
}

// PurgeStatsBefore deletes aggregate rows with a minute older than cutoff
// from every stats table. Returns the total number of rows removed. Table
// names come from the fixed StatsTable vars, never from input, so building
// the statement with Sprintf is safe.
func (db *DB) PurgeStatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, t := range statsTables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE minute < $1`, t.Name)
		tag, err := db.Pool.Exec(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", t.Name, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
