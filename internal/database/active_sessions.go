package database

import (
	"context"
	"fmt"
	"time"
)

// SessionRow mirrors one live session in the active_sessions table.
type SessionRow struct {
	ID             string
	Server         string
	Channel        string
	Country        string
	Protocol       string
	UserAgent      string
	UserAgentClass string
	UserID         string
	IP             string
	OpenedAt       time.Time
	LastSeenAt     time.Time
	Bytes          int64
}

const upsertSessionsSQL = `
	INSERT INTO active_sessions (id, server, channel, country, protocol,
		user_agent, user_agent_class, user_id, ip, opened_at, last_seen_at, bytes)
	SELECT * FROM unnest(
		$1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
		$7::text[], $8::text[], $9::text[], $10::timestamptz[], $11::timestamptz[],
		$12::bigint[])
	ON CONFLICT (id) DO UPDATE SET
		server           = EXCLUDED.server,
		channel          = EXCLUDED.channel,
		country          = EXCLUDED.country,
		protocol         = EXCLUDED.protocol,
		user_agent       = EXCLUDED.user_agent,
		user_agent_class = EXCLUDED.user_agent_class,
		user_id          = EXCLUDED.user_id,
		ip               = EXCLUDED.ip,
		opened_at        = EXCLUDED.opened_at,
		last_seen_at     = EXCLUDED.last_seen_at,
		bytes            = EXCLUDED.bytes`

// SyncActiveSessions replaces the persisted live-session mirror in two
// phases inside one transaction: upsert every surviving row, then delete ids
// no longer live. An empty slice empties the table. This process is the
// table's only writer.
func (db *DB) SyncActiveSessions(ctx context.Context, rows []SessionRow) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session sync: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(rows))
	servers := make([]string, len(rows))
	channels := make([]string, len(rows))
	countries := make([]string, len(rows))
	protocols := make([]string, len(rows))
	userAgents := make([]string, len(rows))
	uaClasses := make([]string, len(rows))
	userIDs := make([]string, len(rows))
	ips := make([]string, len(rows))
	openedAts := make([]time.Time, len(rows))
	lastSeens := make([]time.Time, len(rows))
	byteCounts := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		servers[i] = r.Server
		channels[i] = r.Channel
		countries[i] = r.Country
		protocols[i] = r.Protocol
		userAgents[i] = r.UserAgent
		uaClasses[i] = r.UserAgentClass
		userIDs[i] = r.UserID
		ips[i] = r.IP
		openedAts[i] = r.OpenedAt
		lastSeens[i] = r.LastSeenAt
		byteCounts[i] = r.Bytes
	}

	if len(rows) > 0 {
		_, err = tx.Exec(ctx, upsertSessionsSQL,
			ids, servers, channels, countries, protocols, userAgents,
			uaClasses, userIDs, ips, openedAts, lastSeens, byteCounts)
		if err != nil {
			return fmt.Errorf("upsert active sessions: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM active_sessions WHERE NOT (id = ANY($1::text[]))`, ids)
	if err != nil {
		return fmt.Errorf("prune active sessions: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadActiveSessions reads the whole snapshot for startup recovery.
func (db *DB) LoadActiveSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, server, channel, country, protocol, user_agent,
			user_agent_class, user_id, ip, opened_at, last_seen_at, bytes
		FROM active_sessions
		ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("load active sessions: %w", err)
	}
	defer rows.Close()

	var result []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.ID, &r.Server, &r.Channel, &r.Country, &r.Protocol,
			&r.UserAgent, &r.UserAgentClass, &r.UserID, &r.IP,
			&r.OpenedAt, &r.LastSeenAt, &r.Bytes); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if result == nil {
		result = []SessionRow{}
	}
	return result, rows.Err()
}
