package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"susm/internal/domain"
)

// InsertProtocol stores a generated document and its record. The record's id
// and generated_at are assigned here when empty.
func (r Repo) InsertProtocol(ctx context.Context, tx *sql.Tx, rec domain.ProtocolRecord, pdf []byte) (domain.ProtocolRecord, error) {
	if rec.ID == "" {
		rec.ID = domain.ObjectID(NewID())
	}
	if rec.GeneratedAt == "" {
		rec.GeneratedAt = r.now()
	}
	if rec.ObjectIDs == nil {
		rec.ObjectIDs = []domain.ObjectID{}
	}
	if rec.ObjectNames == nil {
		rec.ObjectNames = []string{}
	}
	ids, err := marshalJSON(domain.IDStrings(rec.ObjectIDs))
	if err != nil {
		return rec, err
	}
	names, err := marshalJSON(rec.ObjectNames)
	if err != nil {
		return rec, err
	}
	data := "{}"
	if rec.Data != nil {
		if data, err = marshalJSON(rec.Data); err != nil {
			return rec, err
		}
	}
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO protocols(id,project_id,template_id,template_name,object_ids_json,object_names_json,data_json,generated_at,generated_by,pdf) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		string(rec.ID), string(rec.ProjectID), string(rec.TemplateID), rec.TemplateName, ids, names, data, rec.GeneratedAt, rec.GeneratedBy, pdf)
	if err != nil {
		return rec, wrapConstraint(err)
	}
	return rec, nil
}

// ListProtocols returns a project's records in storage order; display
// ordering is up to the caller.
func (r Repo) ListProtocols(ctx context.Context, projectID string) ([]domain.ProtocolRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,template_id,template_name,object_ids_json,object_names_json,data_json,generated_at,generated_by FROM protocols WHERE project_id=? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProtocolRecord{}
	for rows.Next() {
		var rec domain.ProtocolRecord
		var id, project, template, ids, names, data string
		if err := rows.Scan(&id, &project, &template, &rec.TemplateName, &ids, &names, &data, &rec.GeneratedAt, &rec.GeneratedBy); err != nil {
			return nil, err
		}
		rec.ID = domain.ObjectID(id)
		rec.ProjectID = domain.ObjectID(project)
		rec.TemplateID = domain.ObjectID(template)
		var rawIDs []string
		if err := json.Unmarshal([]byte(ids), &rawIDs); err != nil {
			return nil, err
		}
		for _, oid := range rawIDs {
			rec.ObjectIDs = append(rec.ObjectIDs, domain.ObjectID(oid))
		}
		if err := json.Unmarshal([]byte(names), &rec.ObjectNames); err != nil {
			return nil, err
		}
		if data != "{}" {
			if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
				return nil, err
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ProtocolPDF returns the stored document of a record within a project.
func (r Repo) ProtocolPDF(ctx context.Context, projectID, id string) ([]byte, error) {
	var pdf []byte
	err := r.DB.QueryRowContext(ctx, `SELECT pdf FROM protocols WHERE project_id=? AND id=?`, projectID, id).Scan(&pdf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pdf, err
}
