package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/idp"
)

const (
	// SessionTTL is the lifetime of a browser session.
	SessionTTL = 24 * time.Hour

	// RefreshThreshold is how close to expiry an access token gets refreshed.
	RefreshThreshold = 5 * time.Minute
)

// TokenRefresher exchanges a refresh token for new tokens.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*idp.Tokens, error)
}

// SessionManager owns the lifecycle of browser sessions.
type SessionManager struct {
	store     SessionStore
	refresher TokenRefresher
	logger    zerolog.Logger
	metrics   *Metrics
	now       func() time.Time

	refreshLocks keyedMutex
}

func NewSessionManager(store SessionStore, refresher TokenRefresher, logger zerolog.Logger, metrics *Metrics) *SessionManager {
	return &SessionManager{
		store:     store,
		refresher: refresher,
		logger:    logger.With().Str("component", "session").Logger(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// NewSession describes a session to create after a successful login.
type NewSession struct {
	UserID               uuid.UUID
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	HospitalID           *uuid.UUID
}

// CreateSession persists a session valid for SessionTTL and returns its id.
func (m *SessionManager) CreateSession(ctx context.Context, ns NewSession) (string, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return "", err
	}
	now := m.now()
	s := &Session{
		ID:                   id,
		UserID:               ns.UserID,
		CurrentHospitalID:    ns.HospitalID,
		AccessToken:          ns.AccessToken,
		RefreshToken:         ns.RefreshToken,
		AccessTokenExpiresAt: ns.AccessTokenExpiresAt,
		ExpiresAt:            now.Add(SessionTTL),
		CreatedAt:            now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func needsRefresh(s *Session, now time.Time) bool {
	return s.RefreshToken != "" && s.AccessTokenExpiresAt.Sub(now) < RefreshThreshold
}

// GetSession resolves a session id. It returns nil, nil when there is no
// valid session: unknown id, expired, or the access token could not be
// refreshed (the session is deleted in that case). Errors are store failures.
func (m *SessionManager) GetSession(ctx context.Context, id string) (*SessionData, error) {
	now := m.now()
	rec, err := m.store.GetActiveSession(ctx, id, now)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !now.Before(rec.Session.ExpiresAt) {
		return nil, nil
	}

	if needsRefresh(&rec.Session, now) {
		rec, err = m.refresh(ctx, id)
		if err != nil || rec == nil {
			return nil, err
		}
	}

	data := &SessionData{
		SessionID:   rec.Session.ID,
		User:        rec.User,
		AccessToken: rec.Session.AccessToken,
	}

	if hid := rec.Session.CurrentHospitalID; hid != nil {
		hc, err := m.store.HospitalContext(ctx, *hid, rec.User.ID)
		switch {
		case err == nil:
			data.Hospital = &hc.Hospital
			data.Membership = hc.Membership
		case errors.Is(err, ErrNotFound):
		default:
			return nil, fmt.Errorf("resolve session hospital: %w", err)
		}
	}
	return data, nil
}

// refresh runs at most one refresh exchange per session at a time. Waiters
// re-read the row and reuse a refresh that completed while they waited.
func (m *SessionManager) refresh(ctx context.Context, id string) (*SessionRecord, error) {
	unlock := m.refreshLocks.Lock(id)
	defer unlock()

	now := m.now()
	rec, err := m.store.GetActiveSession(ctx, id, now)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !needsRefresh(&rec.Session, now) {
		return rec, nil
	}

	tokens, err := m.refresher.Refresh(ctx, rec.Session.RefreshToken)
	if err != nil {
		m.metrics.refresh("failure")
		m.invalidate(ctx, id, rec.User.ID, err, "token refresh failed, invalidating session")
		return nil, nil
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = rec.Session.RefreshToken
	}
	if err := m.store.UpdateSessionTokens(ctx, id, tokens.AccessToken, refreshToken, tokens.AccessTokenExpiresAt); err != nil {
		m.metrics.refresh("failure")
		m.invalidate(ctx, id, rec.User.ID, err, "storing refreshed tokens failed, invalidating session")
		return nil, nil
	}
	m.metrics.refresh("success")

	rec.Session.AccessToken = tokens.AccessToken
	rec.Session.RefreshToken = refreshToken
	rec.Session.AccessTokenExpiresAt = tokens.AccessTokenExpiresAt
	return rec, nil
}

// invalidate drops a session whose refresh could not be completed.
func (m *SessionManager) invalidate(ctx context.Context, id string, userID uuid.UUID, cause error, msg string) {
	m.logger.Warn().Err(cause).Str("user_id", userID.String()).Msg(msg)
	if err := m.store.DeleteSession(ctx, id); err != nil {
		m.logger.Error().Err(err).Msg("failed to delete session after refresh failure")
	}
}

// UpdateSessionHospital points the session at a hospital, or at none.
func (m *SessionManager) UpdateSessionHospital(ctx context.Context, id string, hospitalID *uuid.UUID) error {
	if err := m.store.SetSessionHospital(ctx, id, hospitalID); err != nil {
		return fmt.Errorf("update session hospital: %w", err)
	}
	return nil
}

func (m *SessionManager) DeleteSession(ctx context.Context, id string) error {
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions signs the user out everywhere.
func (m *SessionManager) DeleteUserSessions(ctx context.Context, userID uuid.UUID) error {
	if err := m.store.DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
