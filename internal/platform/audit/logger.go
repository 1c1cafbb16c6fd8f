package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes and reads the audit trail. A nil *Logger drops writes.
type Logger struct {
	store  Store
	logger zerolog.Logger
}

func NewLogger(store Store, logger zerolog.Logger) *Logger {
	return &Logger{store: store, logger: logger.With().Str("component", "audit").Logger()}
}

// Log records e. An entry without an error message counts as successful.
// Failures are logged and swallowed.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if e.ErrorMessage == "" {
		e.Success = true
	}
	defer func() {
		if r := recover(); r != nil {
			l.writeFailed(e, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := l.store.Insert(ctx, &e); err != nil {
		l.writeFailed(e, err)
	}
}

// LogFailure records e as a failed action with cause as its error message.
func (l *Logger) LogFailure(ctx context.Context, e Entry, cause error) {
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	e.Success = false
	if e.ErrorMessage == "" {
		e.ErrorMessage = "unknown error"
	}
	l.Log(ctx, e)
}

func (l *Logger) writeFailed(e Entry, err error) {
	evt := l.logger.Error().Err(err).
		Str("action", string(e.Action)).
		Str("target_type", string(e.TargetType)).
		Str("user_id", e.UserID.String())
	if e.TargetID != nil {
		evt = evt.Str("target_id", e.TargetID.String())
	}
	evt.Msg("failed to write audit log")
}

// Search returns one page of entries matching f, newest first.
func (l *Logger) Search(ctx context.Context, f Filter) (*Result, error) {
	return l.store.Search(ctx, f)
}

// ForTarget returns the latest entries about one record.
func (l *Logger) ForTarget(ctx context.Context, targetType TargetType, targetID uuid.UUID, limit int) ([]*Entry, error) {
	res, err := l.store.Search(ctx, Filter{TargetType: targetType, TargetID: &targetID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Logs, nil
}

// ForUser returns the latest entries made by one user.
func (l *Logger) ForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error) {
	res, err := l.store.Search(ctx, Filter{UserID: &userID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Logs, nil
}

// RequestInfo fills the client address and user agent of e from the request.
func RequestInfo(c echo.Context, e Entry) Entry {
	e.IPAddress = c.RealIP()
	e.UserAgent = c.Request().UserAgent()
	return e
}
