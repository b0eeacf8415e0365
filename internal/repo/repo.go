package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"susm/internal/domain"
)

// Repo is the sqlite-backed store shared by the CLI and the stand-in server.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// NewID returns a 24 character hex id shaped like the backend's object ids.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (r Repo) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project, ownerID string) (domain.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return p, errors.New("name required")
	}
	if p.ID == "" {
		p.ID = domain.ObjectID(NewID())
	}
	if p.Status == "" {
		p.Status = domain.StatusCreated
	}
	p.CreatedAt = r.now()
	var addr domain.ProjectAddress
	if p.Address != nil {
		addr = *p.Address
	}
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO projects(id,name,street,postal_code,note,status,owner_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		string(p.ID), p.Name, addr.Street, addr.PostalCode, p.Note, string(p.Status), ownerID, p.CreatedAt)
	if err != nil {
		return p, wrapConstraint(err)
	}
	p.Objects = nil
	p.Protocols = nil
	return p, nil
}

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var id, status string
	var addr domain.ProjectAddress
	if err := scan(&id, &p.Name, &addr.Street, &addr.PostalCode, &p.Note, &status, &p.CreatedAt); err != nil {
		return p, err
	}
	p.ID = domain.ObjectID(id)
	p.Status = domain.WorkStatus(status)
	if addr != (domain.ProjectAddress{}) {
		p.Address = &addr
	}
	return p, nil
}

const projectColumns = `id,name,street,postal_code,note,status,created_at`

// GetProject loads a project with its objects and generated protocols.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.Objects, err = r.ListObjects(ctx, id); err != nil {
		return p, err
	}
	if p.Protocols, err = r.ListProtocols(ctx, id); err != nil {
		return p, err
	}
	return p, nil
}

// ListProjects returns the owner's projects, newest first, without children.
func (r Repo) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id=? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectOwner returns the owner of a project.
func (r Repo) ProjectOwner(ctx context.Context, id string) (string, error) {
	var owner string
	err := r.DB.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id=?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

func (r Repo) InsertObject(ctx context.Context, tx *sql.Tx, projectID string, o domain.Object) (domain.Object, error) {
	if strings.TrimSpace(o.Address.HouseNumber) == "" && strings.TrimSpace(o.Address.Street) == "" {
		return o, errors.New("address required")
	}
	if o.ID == "" {
		o.ID = domain.ObjectID(NewID())
	}
	if o.Status == "" {
		o.Status = domain.StatusCreated
	}
	o.CreatedAt = r.now()
	a := o.Address
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO objects(id,project_id,street,house_number,level,door_number,postal_code,note,status,category,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		string(o.ID), projectID, a.Street, a.HouseNumber, a.Level, a.DoorNumber, a.PostalCode, o.Note, string(o.Status), o.Category, o.CreatedAt)
	if err != nil {
		return o, wrapConstraint(err)
	}
	return o, nil
}

// ListObjects returns a project's objects in creation order.
func (r Repo) ListObjects(ctx context.Context, projectID string) ([]domain.Object, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,street,house_number,level,door_number,postal_code,note,status,category,created_at FROM objects WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Object{}
	for rows.Next() {
		var o domain.Object
		var id, status string
		a := &o.Address
		if err := rows.Scan(&id, &a.Street, &a.HouseNumber, &a.Level, &a.DoorNumber, &a.PostalCode, &o.Note, &status, &o.Category, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.ID = domain.ObjectID(id)
		o.Status = domain.WorkStatus(status)
		res = append(res, o)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY") {
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return err
}
