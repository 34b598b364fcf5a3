package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/togetherhq/identity/internal/crypto"
	"github.com/togetherhq/identity/internal/ids"
	"github.com/togetherhq/identity/internal/model"
)

const (
	sessionLifetime = 30 * 24 * time.Hour
	// Expiry slides forward at most once per this interval, bounding write
	// amplification under high-frequency requests.
	sessionTouchInterval = 24 * time.Hour
	// Cached snapshots may lag the store by up to this long; a revoked
	// session can keep reading until the entry ages out.
	sessionCacheTTL = 5 * time.Minute
)

type SessionService struct {
	db  DB
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSession
}

type cachedSession struct {
	session  model.Session
	cachedAt time.Time
}

func NewSessionService(db DB) *SessionService {
	return &SessionService{
		db:    db,
		now:   time.Now,
		cache: make(map[string]cachedSession),
	}
}

const sessionColumns = `id, token, user_id, ip_address, user_agent, created_at, updated_at, expires_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.Token, &s.UserID, &s.IPAddress, &s.UserAgent,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create issues a new session for an authenticated user.
func (s *SessionService) Create(ctx context.Context, user *model.User, meta model.SessionMeta) (*model.Session, error) {
	token, err := crypto.NewToken(32)
	if err != nil {
		return nil, err
	}

	sess, err := scanSession(s.db.QueryRow(ctx,
		`INSERT INTO sessions (id, token, user_id, ip_address, user_agent, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+sessionColumns,
		ids.New(), token, user.ID, meta.IPAddress, meta.UserAgent,
		s.now().Add(sessionLifetime)))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.put(*sess)
	return sess, nil
}

// Get resolves a session by its opaque token, serving from the short-lived
// cache first. A session past its expiry is treated as not found and never
// resurrected.
func (s *SessionService) Get(ctx context.Context, token string) (*model.Session, error) {
	if sess, ok := s.fromCache(token); ok {
		if s.now().After(sess.ExpiresAt) {
			s.drop(token)
			return nil, NewError(KindNotFound, "session not found")
		}
		return sess, nil
	}

	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, "session not found")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if s.now().After(sess.ExpiresAt) {
		// Lazy expiry: delete the dead row opportunistically.
		s.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
		return nil, NewError(KindNotFound, "session not found")
	}

	s.put(*sess)
	return sess, nil
}

// Touch extends the session's expiry by the configured lifetime, but only
// when more than 24 hours have passed since the last extension. The update
// is conditional in SQL so concurrent requests extend at most once.
func (s *SessionService) Touch(ctx context.Context, sess *model.Session) error {
	if s.now().Sub(sess.UpdatedAt) < sessionTouchInterval {
		return nil
	}

	updated, err := scanSession(s.db.QueryRow(ctx,
		`UPDATE sessions
		 SET expires_at = $1, updated_at = now()
		 WHERE token = $2 AND updated_at < now() - interval '24 hours'
		 RETURNING `+sessionColumns,
		s.now().Add(sessionLifetime), sess.Token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another request won the race; nothing to do.
			return nil
		}
		return fmt.Errorf("touch session: %w", err)
	}

	s.put(*updated)
	*sess = *updated
	return nil
}

// Revoke destroys a session by token. Revoking a session that does not
// exist is a no-op, not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.drop(token)
	return nil
}

// RevokeByID destroys one of the user's sessions by session id.
func (s *SessionService) RevokeByID(ctx context.Context, userID, sessionID string) error {
	var token string
	err := s.db.QueryRow(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2 RETURNING token`,
		sessionID, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("revoke session by id: %w", err)
	}
	s.drop(token)
	return nil
}

// RevokeOthers destroys every session of the user except the current one.
func (s *SessionService) RevokeOthers(ctx context.Context, userID, currentToken string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND token <> $2`, userID, currentToken)
	if err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	s.dropUser(userID, currentToken)
	return nil
}

// RevokeAll destroys every session of the user.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	s.dropUser(userID, "")
	return nil
}

// ListByUser returns the user's active sessions, newest first.
func (s *SessionService) ListByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND expires_at > now()
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Token, &sess.UserID, &sess.IPAddress,
			&sess.UserAgent, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) fromCache(token string) (*model.Session, bool) {
	s.mu.RLock()
	entry, ok := s.cache[token]
	s.mu.RUnlock()
	if !ok || s.now().Sub(entry.cachedAt) > sessionCacheTTL {
		return nil, false
	}
	sess := entry.session
	return &sess, true
}

func (s *SessionService) put(sess model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Opportunistic pruning keeps the map bounded without a sweeper.
	if len(s.cache) > 10000 {
		cutoff := s.now().Add(-sessionCacheTTL)
		for k, v := range s.cache {
			if v.cachedAt.Before(cutoff) {
				delete(s.cache, k)
			}
		}
	}
	s.cache[sess.Token] = cachedSession{session: sess, cachedAt: s.now()}
}

func (s *SessionService) drop(token string) {
	s.mu.Lock()
	delete(s.cache, token)
	s.mu.Unlock()
}

func (s *SessionService) dropUser(userID, keepToken string) {
	s.mu.Lock()
	for token, entry := range s.cache {
		if entry.session.UserID == userID && token != keepToken {
			delete(s.cache, token)
		}
	}
	s.mu.Unlock()
}
