package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/errors"
)

// AccessLogRepository implements access.LogRepository over an append-only
// table. Rows are never updated or deleted; windowed aggregates are computed
// server-side in a single round trip.
type AccessLogRepository struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

// NewAccessLogRepository creates a new PostgreSQL access log repository
func NewAccessLogRepository(db *pgxpool.Pool, queryTimeout time.Duration) *AccessLogRepository {
	return &AccessLogRepository{db: db, queryTimeout: queryTimeout}
}

// Append durably records one evaluated request.
func (r *AccessLogRepository) Append(ctx context.Context, entry *access.LogEntry) error {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO access_log_entries (
			id, tenant_id, client_id, user_id, data_category, size_bytes,
			decision, reason, ip_address, user_agent, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID, entry.TenantID, entry.ClientID, entry.UserID,
		entry.DataCategory, entry.SizeBytes, entry.Decision, entry.Reason,
		entry.IPAddress, entry.UserAgent, entry.OccurredAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to append access log entry").WithCause(err)
	}
	return nil
}

// WindowStats returns aggregate activity for a client since the cutoff. The
// timestamp list feeds the in-process timing-regularity check, so the window
// is expected to be short.
func (r *AccessLogRepository) WindowStats(ctx context.Context, tenantID, clientID string, since time.Time) (*access.WindowStats, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	stats := &access.WindowStats{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COUNT(DISTINCT (user_id, data_category)),
		       COALESCE(SUM(size_bytes), 0)
		FROM access_log_entries
		WHERE tenant_id = $1 AND client_id = $2 AND occurred_at >= $3
	`, tenantID, clientID, since).Scan(
		&stats.RequestCount, &stats.DistinctUserCount,
		&stats.DistinctPairCount, &stats.TotalBytes,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to aggregate access window").WithCause(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT occurred_at
		FROM access_log_entries
		WHERE tenant_id = $1 AND client_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, tenantID, clientID, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to load access timestamps").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, errors.NewInternalError("failed to scan access timestamp").WithCause(err)
		}
		stats.Timestamps = append(stats.Timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to read access timestamps").WithCause(err)
	}
	return stats, nil
}

// RecentViolations returns denial reasons per client in the window, for
// cross-client correlation.
func (r *AccessLogRepository) RecentViolations(ctx context.Context, tenantID string, since time.Time) (map[string][]string, error) {
	ctx, cancel := withQueryTimeout(ctx, r.queryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT client_id, reason
		FROM access_log_entries
		WHERE tenant_id = $1 AND decision = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, tenantID, access.DecisionDenied, since)
	if err != nil {
		return nil, errors.NewInternalError("failed to load recent violations").WithCause(err)
	}
	defer rows.Close()

	violations := make(map[string][]string)
	for rows.Next() {
		var clientID, reason string
		if err := rows.Scan(&clientID, &reason); err != nil {
			return nil, errors.NewInternalError("failed to scan violation row").WithCause(err)
		}
		violations[clientID] = append(violations[clientID], reason)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to read violation rows").WithCause(err)
	}
	return violations, nil
}
