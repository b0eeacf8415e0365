package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"susm/internal/domain"
)

const templateColumns = `id,name,description,header_template,footer_template,fields_json,created_at,updated_at`

func scanTemplate(scan func(dest ...any) error) (domain.ProtocolTemplate, error) {
	var t domain.ProtocolTemplate
	var id, fields string
	if err := scan(&id, &t.Name, &t.Description, &t.HeaderTemplate, &t.FooterTemplate, &fields, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.ID = domain.ObjectID(id)
	if err := json.Unmarshal([]byte(fields), &t.Fields); err != nil {
		return t, err
	}
	if t.Fields == nil {
		t.Fields = []domain.ProtocolField{}
	}
	return t, nil
}

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, p domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	fields, err := marshalJSON(nonNilFields(p.Fields))
	if err != nil {
		return domain.ProtocolTemplate{}, err
	}
	now := r.now()
	id := NewID()
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		id, p.Name, p.Description, p.HeaderTemplate, p.FooterTemplate, fields, now, now)
	if err != nil {
		return domain.ProtocolTemplate{}, wrapConstraint(err)
	}
	return r.GetTemplate(ctx, id)
}

// UpdateTemplate replaces every editable attribute of a template.
func (r Repo) UpdateTemplate(ctx context.Context, tx *sql.Tx, id string, p domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	fields, err := marshalJSON(nonNilFields(p.Fields))
	if err != nil {
		return domain.ProtocolTemplate{}, err
	}
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE templates SET name=?, description=?, header_template=?, footer_template=?, fields_json=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.HeaderTemplate, p.FooterTemplate, fields, r.now(), id)
	if err != nil {
		return domain.ProtocolTemplate{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ProtocolTemplate{}, ErrNotFound
	}
	return r.GetTemplate(ctx, id)
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.ProtocolTemplate, error) {
	t, err := scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// ListTemplates returns templates alphabetically.
func (r Repo) ListTemplates(ctx context.Context) ([]domain.ProtocolTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProtocolTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilFields(fields []domain.ProtocolField) []domain.ProtocolField {
	if fields == nil {
		return []domain.ProtocolField{}
	}
	return fields
}
