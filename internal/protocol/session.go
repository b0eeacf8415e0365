package protocol

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"susm/internal/domain"
)

// State of a template editing session.
type State int

const (
	StateEmpty State = iota
	StateEditing
	StateValidating
	StateSubmitting
	StateSaved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateEditing:
		return "editing"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSaved:
		return "saved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrSessionState is returned for an operation the current state does not allow.
var ErrSessionState = errors.New("operation not allowed in current session state")

// TemplateStore persists templates remotely.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, payload domain.TemplatePayload) (domain.ProtocolTemplate, error)
	UpdateTemplate(ctx context.Context, id string, payload domain.TemplatePayload) (domain.ProtocolTemplate, error)
}

// EditSession drives one template through editing, validation and submission.
// It is owned by a single caller and is not safe for concurrent use.
type EditSession struct {
	draft   *Draft
	state   State
	lastErr error
	saved   domain.ProtocolTemplate
	logger  *zap.Logger
}

// NewEditSession starts a session for a new template.
func NewEditSession(logger *zap.Logger) *EditSession {
	return &EditSession{draft: NewDraft(), state: StateEmpty, logger: nopIfNil(logger)}
}

// EditTemplate starts a session for an existing template.
func EditTemplate(t domain.ProtocolTemplate, logger *zap.Logger) *EditSession {
	return &EditSession{draft: FromTemplate(t), state: StateEditing, logger: nopIfNil(logger)}
}

// ResumeDraft starts a session from a prepared draft.
func ResumeDraft(d *Draft, logger *zap.Logger) *EditSession {
	if d == nil {
		return NewEditSession(logger)
	}
	return &EditSession{draft: d, state: StateEditing, logger: nopIfNil(logger)}
}

func (s *EditSession) State() State { return s.state }

func (s *EditSession) Draft() *Draft { return s.draft }

// Err returns the error of the last failed validation or submission.
func (s *EditSession) Err() error { return s.lastErr }

// Saved returns the template as acknowledged by the store.
func (s *EditSession) Saved() domain.ProtocolTemplate { return s.saved }

// Edit applies fn to the draft and moves the session to Editing.
func (s *EditSession) Edit(fn func(d *Draft)) error {
	switch s.state {
	case StateEmpty, StateEditing, StateFailed:
	default:
		return fmt.Errorf("%w: edit in %s", ErrSessionState, s.state)
	}
	if fn != nil {
		fn(s.draft)
	}
	s.state = StateEditing
	s.lastErr = nil
	return nil
}

// AddField appends a blank field.
func (s *EditSession) AddField() (int, error) {
	idx := -1
	err := s.Edit(func(d *Draft) { idx = d.AddField() })
	return idx, err
}

// RemoveField removes a field; out of range indexes are a no-op.
func (s *EditSession) RemoveField(index int) (bool, error) {
	removed := false
	err := s.Edit(func(d *Draft) { removed = d.RemoveField(index) })
	return removed, err
}

// Submit validates the draft and stores it, creating the template when it has
// no id yet. A validation failure leaves the session in Editing; a remote
// failure leaves it in Failed for Retry or further edits.
func (s *EditSession) Submit(ctx context.Context, store TemplateStore) (domain.ProtocolTemplate, error) {
	switch s.state {
	case StateEmpty, StateEditing:
	default:
		return domain.ProtocolTemplate{}, fmt.Errorf("%w: submit in %s", ErrSessionState, s.state)
	}
	s.state = StateValidating
	if err := s.draft.Validate(); err != nil {
		s.state = StateEditing
		s.lastErr = err
		s.logger.Debug("template draft rejected", zap.Error(err))
		return domain.ProtocolTemplate{}, err
	}
	return s.submit(ctx, store)
}

// Retry resubmits after a remote failure.
func (s *EditSession) Retry(ctx context.Context, store TemplateStore) (domain.ProtocolTemplate, error) {
	if s.state != StateFailed {
		return domain.ProtocolTemplate{}, fmt.Errorf("%w: retry in %s", ErrSessionState, s.state)
	}
	return s.submit(ctx, store)
}

func (s *EditSession) submit(ctx context.Context, store TemplateStore) (domain.ProtocolTemplate, error) {
	s.state = StateSubmitting
	payload := s.draft.Payload()
	var (
		saved domain.ProtocolTemplate
		err   error
		op    = "create template"
	)
	if s.draft.ID != "" {
		op = "update template"
		saved, err = store.UpdateTemplate(ctx, s.draft.ID.String(), payload)
	} else {
		saved, err = store.CreateTemplate(ctx, payload)
	}
	if err != nil {
		s.state = StateFailed
		s.lastErr = remote(op, err)
		s.logger.Warn("template submission failed", zap.String("op", op), zap.Error(err))
		return domain.ProtocolTemplate{}, s.lastErr
	}
	if saved.ID != "" {
		s.draft.ID = saved.ID
	}
	s.saved = saved
	s.state = StateSaved
	s.lastErr = nil
	s.logger.Info("template saved", zap.String("template_id", s.draft.ID.String()), zap.String("name", payload.Name))
	return saved, nil
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
