package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"susm/internal/domain"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// InsertUser stores a user with a bcrypt hash of password.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, password string) (domain.User, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return u, errors.New("email required")
	}
	if len(password) < 6 {
		return u, errors.New("password must be at least 6 characters")
	}
	if u.Language == "" {
		u.Language = "en"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return u, err
	}
	if u.ID == "" {
		u.ID = NewID()
	}
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO users(id,name,email,password_hash,language,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, string(hash), u.Language, r.now())
	if err != nil {
		return u, wrapConstraint(err)
	}
	u.Password = ""
	return u, nil
}

// Authenticate returns the user matching email and password.
func (r Repo) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	var u domain.User
	var hash string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,password_hash,language FROM users WHERE email=?`, NormalizeEmail(email)).
		Scan(&u.ID, &u.Name, &u.Email, &hash, &u.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrInvalidCredentials
	}
	if err != nil {
		return u, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,language FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// RevokeToken blacklists a token id until it would have expired anyway.
func (r Repo) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO revoked_tokens(jti,expires_at) VALUES (?,?) ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt.UTC().Format(time.RFC3339))
	return err
}

func (r Repo) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM revoked_tokens WHERE jti=?`, jti).Scan(&n)
	return n > 0, err
}
