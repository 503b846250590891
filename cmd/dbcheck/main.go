package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snarg/streamstats/internal/config"
)

// dbcheck is a quick ops helper for poking at the stats database. It is not
// part of the serving path.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		cfg, err := config.Load(config.Overrides{})
		if err != nil {
			fmt.Fprintln(os.Stderr, "dbcheck:", err)
			os.Exit(1)
		}
		dsn = cfg.DatabaseURL()
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "recent" {
		recentMinutes(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "sessions" {
		activeSessions(ctx, pool)
		return
	}

	// Default: table counts
	tables := []string{
		"stats_global", "stats_by_server", "stats_by_channel",
		"stats_by_country", "stats_by_protocol", "stats_by_user_agent",
		"active_sessions",
	}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		pool.QueryRow(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}
}

func recentMinutes(ctx context.Context, pool *pgxpool.Pool) {
	fmt.Println("── Last 10 Global Minutes ──")
	rows, _ := pool.Query(ctx, `
		SELECT minute, sessions_started, sessions_closed, total_bytes,
		       bandwidth_bps, watch_time_seconds, unique_users, peak_concurrent
		FROM stats_global
		ORDER BY minute DESC
		LIMIT 10
	`)
	defer rows.Close()
	for rows.Next() {
		var minute interface{}
		var started, closed, bytes, bps, watch, users, peak int64
		rows.Scan(&minute, &started, &closed, &bytes, &bps, &watch, &users, &peak)
		fmt.Printf("  %v  started=%d closed=%d bytes=%d bps=%d watch=%ds users=%d peak=%d\n",
			minute, started, closed, bytes, bps, watch, users, peak)
	}

	fmt.Println("\n── Top Channels (last hour) ──")
	rows2, _ := pool.Query(ctx, `
		SELECT channel, sum(sessions_started), max(peak_concurrent)
		FROM stats_by_channel
		WHERE minute > now() - interval '1 hour'
		GROUP BY channel
		ORDER BY max(peak_concurrent) DESC
		LIMIT 10
	`)
	defer rows2.Close()
	for rows2.Next() {
		var channel string
		var started, peak int64
		rows2.Scan(&channel, &started, &peak)
		fmt.Printf("  %-30s started=%d peak=%d\n", channel, started, peak)
	}
}

func activeSessions(ctx context.Context, pool *pgxpool.Pool) {
	var count int64
	pool.QueryRow(ctx, "SELECT count(*) FROM active_sessions").Scan(&count)
	fmt.Printf("── Active Sessions (%d total, showing up to 25) ──\n", count)

	rows, _ := pool.Query(ctx, `
		SELECT id, server, channel, user_id, country, protocol,
		       user_agent_class, opened_at, last_seen_at, bytes
		FROM active_sessions
		ORDER BY opened_at
		LIMIT 25
	`)
	defer rows.Close()
	for rows.Next() {
		var id, server, channel, userID, country, proto, uaClass string
		var openedAt, lastSeenAt interface{}
		var bytes int64
		rows.Scan(&id, &server, &channel, &userID, &country, &proto, &uaClass, &openedAt, &lastSeenAt, &bytes)
		fmt.Printf("  %s user=%s %s/%s [%s %s %s] opened=%v seen=%v bytes=%d\n",
			id, userID, server, channel, country, proto, uaClass, openedAt, lastSeenAt, bytes)
	}
}
