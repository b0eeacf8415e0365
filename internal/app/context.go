package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"susm/internal/client"
	"susm/internal/config"
	"susm/internal/db"
	"susm/internal/events"
	"susm/internal/logging"
	"susm/internal/migrate"
	"susm/internal/repo"
)

// ErrNotLoggedIn is returned by commands that need a backend session.
var ErrNotLoggedIn = errors.New("not logged in; run susm login")

// Overrides take precedence over susm.yml. Empty values are ignored.
type Overrides struct {
	BackendURL string
	Token      string
	LogLevel   string
	LogFormat  string
	Timeout    time.Duration
}

// Env is everything a CLI command needs: the workspace config, the local
// store, a logger and an API client authenticated with the saved session.
type Env struct {
	Workspace string
	Config    *config.Config
	Repo      repo.Repo
	Client    *client.Client
	Logger    *zap.Logger
	Events    events.Writer

	session repo.Session
	conn    *sql.DB
}

// Open resolves config, opens and migrates the workspace database and builds
// the client. The token comes from the override or from the session saved
// for the configured backend.
func Open(ctx context.Context, workspace string, ov Overrides) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, ov)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "susm")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := &Env{
		Workspace: workspace,
		Config:    cfg,
		Repo:      repo.Repo{DB: conn},
		Logger:    logger,
		conn:      conn,
	}
	token := ov.Token
	if s, err := e.Repo.GetSession(ctx, cfg.Backend.URL); err == nil {
		e.session = s
		if token == "" {
			token = s.Token
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		conn.Close()
		return nil, err
	}
	e.Client = client.New(client.Options{
		BaseURL: cfg.Backend.URL,
		Token:   token,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger.Named("client"),
	})
	logger.Debug("workspace opened", zap.String("workspace", workspace), zap.String("backend", cfg.Backend.URL), zap.Bool("session", token != ""))
	return e, nil
}

func applyOverrides(cfg *config.Config, ov Overrides) {
	if v := strings.TrimSpace(ov.BackendURL); v != "" {
		cfg.Backend.URL = v
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		cfg.Log.Format = ov.LogFormat
	}
	if ov.Timeout > 0 {
		cfg.Backend.Timeout = ov.Timeout
	}
}

// Close releases the database and flushes the logger.
func (e *Env) Close() error {
	if e.Logger != nil {
		_ = e.Logger.Sync()
	}
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// Actor names whoever runs the command in the event log.
func (e *Env) Actor() string {
	if e.session.Email != "" {
		return e.session.Email
	}
	return "local"
}

// Session returns the saved session for the configured backend, if any.
func (e *Env) Session() (repo.Session, bool) {
	return e.session, e.session.Token != ""
}

// RequireLogin fails unless a token is available.
func (e *Env) RequireLogin() error {
	if _, ok := e.Session(); ok {
		return nil
	}
	if e.Client != nil && e.Client.HasToken() {
		return nil
	}
	return ErrNotLoggedIn
}

// SaveSession remembers token for the configured backend.
func (e *Env) SaveSession(ctx context.Context, email, token string) error {
	if err := e.Repo.SaveSession(ctx, e.Config.Backend.URL, token, email); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	e.session = repo.Session{BackendURL: e.Config.Backend.URL, Token: token, Email: repo.NormalizeEmail(email)}
	e.Client.SetToken(token)
	e.Record(ctx, events.SessionStarted, "", "session", "", events.EventPayload{"backend": e.Config.Backend.URL})
	return nil
}

// ClearSession forgets the token for the configured backend.
func (e *Env) ClearSession(ctx context.Context) error {
	e.Record(ctx, events.SessionEnded, "", "session", "", events.EventPayload{"backend": e.Config.Backend.URL})
	if err := e.Repo.DeleteSession(ctx, e.Config.Backend.URL); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	e.session = repo.Session{}
	e.Client.SetToken("")
	return nil
}

// Record appends a local event. Failures are logged, never returned.
func (e *Env) Record(ctx context.Context, evtType, projectID, entityKind, entityID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, e.conn, evtType, projectID, entityKind, entityID, e.Actor(), payload); err != nil {
		e.Logger.Warn("event not recorded", zap.String("type", evtType), zap.Error(err))
	}
}

// DB exposes the workspace database for read-only queries such as the event log.
func (e *Env) DB() *sql.DB { return e.conn }
