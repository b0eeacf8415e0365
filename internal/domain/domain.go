package domain

import (
	"bytes"
	"encoding/json"
)

// ObjectID is a backend document id, encoded as {"$oid": "..."} on the wire.
type ObjectID string

func (id ObjectID) String() string { return string(id) }

func (id ObjectID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		OID string `json:"$oid"`
	}{OID: string(id)})
}

// UnmarshalJSON accepts both the {"$oid": ...} envelope and a bare string.
func (id *ObjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ObjectID(s)
		return nil
	}
	var env struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*id = ObjectID(env.OID)
	return nil
}

// IDStrings flattens ids to plain strings.
func IDStrings(ids []ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

type WorkStatus string

const (
	StatusCreated    WorkStatus = "created"
	StatusInProgress WorkStatus = "in_progress"
	StatusRejected   WorkStatus = "rejected"
	StatusVerified   WorkStatus = "verified"
	StatusClosed     WorkStatus = "closed"
)

type ProjectAddress struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type ObjectAddress struct {
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"house_number"`
	Level       string `json:"level,omitempty"`
	DoorNumber  string `json:"door_number,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
}

type Object struct {
	ID         ObjectID      `json:"_id,omitempty"`
	Address    ObjectAddress `json:"address"`
	Note       string        `json:"note"`
	Status     WorkStatus    `json:"status,omitempty"`
	ShareToken string        `json:"share_token,omitempty"`
	Category   string        `json:"category,omitempty"`
	CreatedAt  string        `json:"created_at,omitempty" format:"date-time"`
}

type Project struct {
	ID         ObjectID         `json:"_id,omitempty"`
	Name       string           `json:"name"`
	Address    *ProjectAddress  `json:"address,omitempty"`
	Note       string           `json:"note,omitempty"`
	Status     WorkStatus       `json:"status,omitempty"`
	Categories []string         `json:"categories,omitempty"`
	Objects    []Object         `json:"objects,omitempty"`
	Protocols  []ProtocolRecord `json:"protocols,omitempty"`
	ArchivedAt string           `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt  string           `json:"created_at,omitempty" format:"date-time"`
}

type User struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password,omitempty"`
	Address  *ProjectAddress `json:"addresses,omitempty"`
	Language string          `json:"language"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProtocolField is one labelled entry of a template.
type ProtocolField struct {
	Label    string
	Type     FieldType
	Required bool
	Order    int
}

type protocolFieldWire struct {
	Label     string        `json:"label"`
	FieldType WireFieldType `json:"field_type"`
	Required  bool          `json:"required"`
	Order     int           `json:"order"`
}

func (f ProtocolField) MarshalJSON() ([]byte, error) {
	return json.Marshal(protocolFieldWire{
		Label:     f.Label,
		FieldType: Encode(f.Type, f.Label),
		Required:  f.Required,
		Order:     f.Order,
	})
}

func (f *ProtocolField) UnmarshalJSON(data []byte) error {
	var w protocolFieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = ProtocolField{
		Label:    w.Label,
		Type:     Decode(w.FieldType),
		Required: w.Required,
		Order:    w.Order,
	}
	return nil
}

// TemplatePayload is the create/update body of a protocol template.
type TemplatePayload struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Fields         []ProtocolField `json:"fields"`
	HeaderTemplate string          `json:"header_template,omitempty"`
	FooterTemplate string          `json:"footer_template,omitempty"`
}

type ProtocolTemplate struct {
	ID             ObjectID        `json:"_id,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Fields         []ProtocolField `json:"fields"`
	HeaderTemplate string          `json:"header_template,omitempty"`
	FooterTemplate string          `json:"footer_template,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt      string          `json:"updated_at,omitempty" format:"date-time"`
}

// Payload strips server-managed attributes from t.
func (t ProtocolTemplate) Payload() TemplatePayload {
	return TemplatePayload{
		Name:           t.Name,
		Description:    t.Description,
		Fields:         t.Fields,
		HeaderTemplate: t.HeaderTemplate,
		FooterTemplate: t.FooterTemplate,
	}
}

// GenerationRequest is shared by the preview and generate operations.
type GenerationRequest struct {
	TemplateID string         `json:"template_id"`
	ProjectID  string         `json:"project_id"`
	ObjectIDs  []string       `json:"object_ids"`
	Data       map[string]any `json:"data,omitempty"`
}

// ProtocolRecord describes a previously generated protocol of a project.
type ProtocolRecord struct {
	ID           ObjectID       `json:"_id"`
	TemplateID   ObjectID       `json:"template_id"`
	TemplateName string         `json:"template_name"`
	ProjectID    ObjectID       `json:"project_id"`
	ObjectIDs    []ObjectID     `json:"object_ids"`
	ObjectNames  []string       `json:"object_names"`
	GeneratedAt  string         `json:"generated_at" format:"date-time"`
	GeneratedBy  string         `json:"generated_by"`
	Data         map[string]any `json:"data,omitempty"`
}

type PreviewImage struct {
	Path          string `json:"path"`
	Description   string `json:"description,omitempty"`
	ObjectAddress string `json:"object_address"`
}

type PreviewFileGroup struct {
	Description string         `json:"description,omitempty"`
	Images      []PreviewImage `json:"images"`
}

type PreviewSection struct {
	ObjectAddress   string             `json:"object_address"`
	Headline        string             `json:"headline"`
	FileGroups      []PreviewFileGroup `json:"file_groups"`
	UngroupedImages []PreviewImage     `json:"ungrouped_images"`
}

type TOCEntry struct {
	Title string `json:"title"`
	Level int    `json:"level"`
}

// PreviewData is the structured result of a protocol preview.
type PreviewData struct {
	ProjectName     string           `json:"project_name"`
	ProjectAddress  string           `json:"project_address"`
	TableOfContents []TOCEntry       `json:"table_of_contents"`
	ContentSections []PreviewSection `json:"content_sections"`
}
