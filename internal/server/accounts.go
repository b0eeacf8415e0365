package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/repo"
)

func registerAccounts(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/register",
		Summary:       "Create an account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		u, err := s.repo.InsertUser(ctx, nil, input.Body.user(), input.Body.Password)
		if err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return nil, newAPIError(http.StatusConflict, "conflict", "email already registered", nil)
			}
			return nil, handleError(err)
		}
		s.record(ctx, events.UserRegistered, "", "user", u.ID, u.Email, nil)
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body string `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		u, err := s.repo.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(s.auth, u, s.now())
		if err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, events.SessionStarted, "", "user", u.ID, u.Email, nil)
		return &struct {
			Body string `json:"body"`
		}{Body: token}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/logout",
		Summary:     "Revoke the current token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.repo.RevokeToken(ctx, p.TokenID, p.ExpiresAt); err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, events.SessionEnded, "", "user", p.UserID, p.actor(), nil)
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "ok"}}, nil
	})
}

func (p Principal) actor() string {
	if p.Email != "" {
		return p.Email
	}
	return p.UserID
}

// record appends an audit event; failures are logged and never fail the call.
func (s *service) record(ctx context.Context, evtType, projectID, entityKind, entityID, actor string, payload events.EventPayload) {
	if err := s.events.Append(ctx, s.repo.DB, evtType, projectID, entityKind, entityID, actor, payload); err != nil {
		s.logger.Warn("append event", zap.String("type", evtType), zap.Error(err))
	}
}
