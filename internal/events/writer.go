package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Event types recorded by the CLI and the stand-in server.
const (
	SessionStarted    = "session.started"
	SessionEnded      = "session.ended"
	UserRegistered    = "user.registered"
	ProjectCreated    = "project.created"
	ObjectAdded       = "object.added"
	TemplateSaved     = "template.saved"
	TemplateDeleted   = "template.deleted"
	ProtocolGenerated = "protocol.generated"
	ProtocolExported  = "protocol.exported"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Event is one row of the append-only log.
type Event struct {
	ID         int64        `json:"id"`
	TS         string       `json:"ts"`
	Type       string       `json:"type"`
	ProjectID  string       `json:"project_id,omitempty"`
	EntityKind string       `json:"entity_kind"`
	EntityID   string       `json:"entity_id,omitempty"`
	ActorID    string       `json:"actor_id"`
	Payload    EventPayload `json:"payload"`
}

func (w Writer) Append(ctx context.Context, ex Execer, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "local"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// List returns the newest events first. An empty projectID lists all.
func List(ctx context.Context, db *sql.DB, projectID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := sq.Select("id", "ts", "type", "COALESCE(project_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").
		From("events").
		OrderBy("id DESC").
		Limit(uint64(limit))
	if projectID != "" {
		q = q.Where(sq.Eq{"project_id": projectID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
