package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edushield/access-gateway/internal/domain/consent"
)

// Decision is the outcome recorded for an evaluated request.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// LogEntry is the append-only record of one evaluated access request. It is
// the source of truth for rate/volume windows and forensic reconstruction
// and is never mutated after write.
type LogEntry struct {
	ID           uuid.UUID
	TenantID     string
	ClientID     string
	UserID       string
	DataCategory consent.DataCategory
	SizeBytes    int64
	Decision     Decision
	Reason       string
	IPAddress    string
	UserAgent    string
	OccurredAt   time.Time
}

// NewLogEntry stamps a log entry for an evaluated request.
func NewLogEntry(tenantID, clientID, userID string, category consent.DataCategory, sizeBytes int64, decision Decision, reason string) *LogEntry {
	return &LogEntry{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ClientID:     clientID,
		UserID:       userID,
		DataCategory: category,
		SizeBytes:    sizeBytes,
		Decision:     decision,
		Reason:       reason,
		OccurredAt:   time.Now(),
	}
}

// WindowStats summarizes a client's activity over a trailing window, fetched
// in one store round trip so pattern checks run in-process.
type WindowStats struct {
	RequestCount      int
	DistinctUserCount int
	DistinctPairCount int // distinct (user, data-category) pairs
	TotalBytes        int64
	Timestamps        []time.Time
}

// LogRepository appends and queries access log entries. Appends are
// commutative and require no locking.
type LogRepository interface {
	// Append durably records an evaluated request.
	Append(ctx context.Context, entry *LogEntry) error

	// WindowStats returns aggregate activity for a client since the cutoff.
	WindowStats(ctx context.Context, tenantID, clientID string, since time.Time) (*WindowStats, error)

	// RecentViolations returns clients with the given violation reasons in
	// the window, keyed by client id, for cross-client correlation.
	RecentViolations(ctx context.Context, tenantID string, since time.Time) (map[string][]string, error)
}
