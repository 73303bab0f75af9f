package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/domain/access"
	"github.com/edushield/access-gateway/internal/domain/errors"
)

// redisSessionStore implements access.SessionStore over Redis. Sessions are
// stored as JSON with a TTL matching their expiry, plus per-client and
// per-user index sets for enumeration during isolation and revocation.
type redisSessionStore struct {
	cache  Cache
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a new Redis-based session store
func NewRedisSessionStore(cache Cache, client *redis.Client, logger *zap.Logger) access.SessionStore {
	return &redisSessionStore{
		cache:  cache,
		client: client,
		logger: logger,
	}
}

func sessionKey(tenantID string, id uuid.UUID) string {
	return SessionPrefix + tenantID + ":" + id.String()
}

func clientIndexKey(tenantID, clientID string) string {
	return ClientIdxPrefix + tenantID + ":" + clientID + ":sessions"
}

func userIndexKey(tenantID, userID string) string {
	return UserIdxPrefix + tenantID + ":" + userID + ":sessions"
}

func revokedKey(tenantID, clientID string) string {
	return RevokedPrefix + tenantID + ":" + clientID
}

// Create commits a new session. The revocation marker is checked before and
// re-checked after the write so creation cannot race a concurrent isolation:
// if isolation lands in between, the just-written session is rolled back.
func (s *redisSessionStore) Create(ctx context.Context, session *access.Session) error {
	revoked, err := s.IsRevoked(ctx, session.TenantID, session.ClientID)
	if err != nil {
		return err
	}
	if revoked {
		return errors.ErrClientIsolated
	}

	key := sessionKey(session.TenantID, session.ID)
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return errors.NewValidationError("SESSION_EXPIRED", "session already expired at creation")
	}

	if err := s.cache.SetJSON(ctx, key, session, ttl); err != nil {
		return fmt.Errorf("session write failed: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, clientIndexKey(session.TenantID, session.ClientID), session.ID.String())
	pipe.Expire(ctx, clientIndexKey(session.TenantID, session.ClientID), ttl+time.Hour)
	pipe.SAdd(ctx, userIndexKey(session.TenantID, session.UserID), session.ID.String())
	pipe.Expire(ctx, userIndexKey(session.TenantID, session.UserID), ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("session index update failed",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return fmt.Errorf("session index update failed: %w", err)
	}

	// Re-check the marker after commit; isolation that raced us wins.
	revoked, err = s.IsRevoked(ctx, session.TenantID, session.ClientID)
	if err != nil {
		return err
	}
	if revoked {
		if _, termErr := s.Terminate(ctx, session.TenantID, session.ID); termErr != nil {
			s.logger.Error("rollback of raced session failed",
				zap.String("session_id", session.ID.String()),
				zap.Error(termErr))
		}
		return errors.ErrClientIsolated
	}

	s.logger.Debug("session created",
		zap.String("session_id", session.ID.String()),
		zap.String("client_id", session.ClientID),
		zap.String("user_id", session.UserID))
	return nil
}

// Get returns a session by id.
func (s *redisSessionStore) Get(ctx context.Context, tenantID string, sessionID uuid.UUID) (*access.Session, error) {
	var session access.Session
	err := s.cache.GetJSON(ctx, sessionKey(tenantID, sessionID), &session)
	if err != nil {
		if _, ok := err.(ErrCacheKeyNotFound); ok {
			return nil, errors.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListByClient returns all live sessions for a client.
func (s *redisSessionStore) ListByClient(ctx context.Context, tenantID, clientID string) ([]*access.Session, error) {
	return s.listByIndex(ctx, tenantID, clientIndexKey(tenantID, clientID))
}

// ListByUser returns all live sessions for a user across clients.
func (s *redisSessionStore) ListByUser(ctx context.Context, tenantID, userID string) ([]*access.Session, error) {
	return s.listByIndex(ctx, tenantID, userIndexKey(tenantID, userID))
}

func (s *redisSessionStore) listByIndex(ctx context.Context, tenantID, indexKey string) ([]*access.Session, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		s.logger.Error("session index read failed", zap.String("index", indexKey), zap.Error(err))
		return nil, fmt.Errorf("session index read failed: %w", err)
	}

	now := time.Now()
	sessions := make([]*access.Session, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		session, err := s.Get(ctx, tenantID, id)
		if err != nil {
			if errors.IsNotFound(err) {
				// Expired naturally; prune the stale index entry.
				s.client.SRem(ctx, indexKey, raw)
				continue
			}
			return nil, err
		}
		if session.IsActive(now) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// Terminate ends a session; already-terminated or expired sessions are a
// no-op reporting false.
func (s *redisSessionStore) Terminate(ctx context.Context, tenantID string, sessionID uuid.UUID) (bool, error) {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if !session.Terminate() {
		return false, nil
	}

	// Keep the terminated record until natural expiry so repeat calls
	// observe it as already terminated.
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.cache.SetJSON(ctx, sessionKey(tenantID, sessionID), session, ttl); err != nil {
		return false, fmt.Errorf("session termination write failed: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.SRem(ctx, clientIndexKey(tenantID, session.ClientID), sessionID.String())
	pipe.SRem(ctx, userIndexKey(tenantID, session.UserID), sessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("session index removal failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}

	s.logger.Debug("session terminated",
		zap.String("session_id", sessionID.String()),
		zap.String("client_id", session.ClientID))
	return true, nil
}

// SetRevocationMarker blocks new session creation for a client until review.
func (s *redisSessionStore) SetRevocationMarker(ctx context.Context, tenantID, clientID, reason string) error {
	if err := s.client.Set(ctx, revokedKey(tenantID, clientID), reason, 0).Err(); err != nil {
		s.logger.Error("revocation marker set failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return fmt.Errorf("revocation marker set failed: %w", err)
	}
	return nil
}

// ClearRevocationMarker re-enables session creation after review.
func (s *redisSessionStore) ClearRevocationMarker(ctx context.Context, tenantID, clientID string) error {
	if err := s.client.Del(ctx, revokedKey(tenantID, clientID)).Err(); err != nil {
		return fmt.Errorf("revocation marker clear failed: %w", err)
	}
	return nil
}

// IsRevoked reports whether the client's marker is set.
func (s *redisSessionStore) IsRevoked(ctx context.Context, tenantID, clientID string) (bool, error) {
	result, err := s.client.Exists(ctx, revokedKey(tenantID, clientID)).Result()
	if err != nil {
		s.logger.Error("revocation marker check failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return false, fmt.Errorf("revocation marker check failed: %w", err)
	}
	return result > 0, nil
}
