package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Session is the locally persisted login for one backend.
type Session struct {
	BackendURL string `json:"backend_url"`
	Token      string `json:"-"`
	Email      string `json:"email"`
	CreatedAt  string `json:"created_at"`
}

func sessionKey(backendURL string) string {
	return strings.TrimRight(strings.TrimSpace(backendURL), "/")
}

// SaveSession stores or replaces the token for backendURL.
func (r Repo) SaveSession(ctx context.Context, backendURL, token, email string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(backend_url,token,email,created_at) VALUES (?,?,?,?)
ON CONFLICT(backend_url) DO UPDATE SET token=excluded.token, email=excluded.email, created_at=excluded.created_at`,
		sessionKey(backendURL), token, NormalizeEmail(email), r.now())
	return err
}

func (r Repo) GetSession(ctx context.Context, backendURL string) (Session, error) {
	var s Session
	err := r.DB.QueryRowContext(ctx, `SELECT backend_url,token,email,created_at FROM sessions WHERE backend_url=?`, sessionKey(backendURL)).
		Scan(&s.BackendURL, &s.Token, &s.Email, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) DeleteSession(ctx context.Context, backendURL string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE backend_url=?`, sessionKey(backendURL))
	return err
}
