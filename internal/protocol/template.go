package protocol

import (
	"fmt"
	"strings"

	"github.com/r3labs/diff/v2"
	"gopkg.in/yaml.v3"

	"susm/internal/domain"
)

// Draft is the editable form of a protocol template. The custom field name of
// a field lives in its Type.Name when Type is Custom.
type Draft struct {
	ID             domain.ObjectID
	Name           string
	Description    string
	HeaderTemplate string
	FooterTemplate string
	Fields         []domain.ProtocolField
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	return &Draft{}
}

// FromTemplate rebuilds a draft from a stored template.
func FromTemplate(t domain.ProtocolTemplate) *Draft {
	d := &Draft{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		HeaderTemplate: t.HeaderTemplate,
		FooterTemplate: t.FooterTemplate,
		Fields:         make([]domain.ProtocolField, 0, len(t.Fields)),
	}
	for _, f := range t.Fields {
		if !f.Type.IsCustom() {
			f.Type.Name = ""
		}
		d.Fields = append(d.Fields, f)
	}
	return d
}

// AddField appends a blank text field and returns its index.
func (d *Draft) AddField() int {
	d.Fields = append(d.Fields, domain.ProtocolField{
		Type:  domain.Text(),
		Order: len(d.Fields),
	})
	return len(d.Fields) - 1
}

// RemoveField deletes the field at index and renumbers the rest. It reports
// false when index is out of range.
func (d *Draft) RemoveField(index int) bool {
	if index < 0 || index >= len(d.Fields) {
		return false
	}
	d.Fields = append(d.Fields[:index], d.Fields[index+1:]...)
	for i := range d.Fields {
		d.Fields[i].Order = i
	}
	return true
}

// SetField replaces the field at index, keeping its order value.
func (d *Draft) SetField(index int, label string, t domain.FieldType, required bool) bool {
	if index < 0 || index >= len(d.Fields) {
		return false
	}
	d.Fields[index].Label = label
	d.Fields[index].Type = t
	d.Fields[index].Required = required
	return true
}

// CustomName returns the custom name slot of the field at index.
func (d *Draft) CustomName(index int) string {
	if index < 0 || index >= len(d.Fields) || !d.Fields[index].Type.IsCustom() {
		return ""
	}
	return d.Fields[index].Type.Name
}

// Validate requires a template name and a label on every field.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	for i, f := range d.Fields {
		if strings.TrimSpace(f.Label) == "" {
			return ValidationError{Field: fmt.Sprintf("fields[%d].label", i), Message: "label is required"}
		}
	}
	return nil
}

// Payload converts the draft to its transmission form. Custom names are
// resolved through the field type codec; the fields keep both their array
// position and their order values.
func (d *Draft) Payload() domain.TemplatePayload {
	fields := make([]domain.ProtocolField, 0, len(d.Fields))
	for _, f := range d.Fields {
		f.Type = domain.Decode(domain.Encode(f.Type, f.Label))
		if f.Order < 0 {
			f.Order = 0
		}
		fields = append(fields, f)
	}
	return domain.TemplatePayload{
		Name:           d.Name,
		Description:    d.Description,
		Fields:         fields,
		HeaderTemplate: d.HeaderTemplate,
		FooterTemplate: d.FooterTemplate,
	}
}

// Changes lists what saving d would change on stored. Field changes are
// reported by position.
func (d *Draft) Changes(stored domain.ProtocolTemplate) (diff.Changelog, error) {
	return diff.Diff(FromTemplate(stored).Payload(), d.Payload(), diff.SliceOrdering(true), diff.DiscardComplexOrigin())
}

type draftDocument struct {
	Name           string               `yaml:"name"`
	Description    string               `yaml:"description,omitempty"`
	HeaderTemplate string               `yaml:"header_template,omitempty"`
	FooterTemplate string               `yaml:"footer_template,omitempty"`
	Fields         []draftFieldDocument `yaml:"fields"`
}

type draftFieldDocument struct {
	Label      string `yaml:"label"`
	Type       string `yaml:"type"`
	CustomName string `yaml:"custom_name,omitempty"`
	Required   bool   `yaml:"required,omitempty"`
}

// ParseDraftYAML reads a draft authored as YAML. Fields get their order from
// their position in the document.
func ParseDraftYAML(data []byte) (*Draft, error) {
	var doc draftDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid template yaml: %w", err)
	}
	d := NewDraft()
	d.Name = doc.Name
	d.Description = doc.Description
	d.HeaderTemplate = doc.HeaderTemplate
	d.FooterTemplate = doc.FooterTemplate
	for i, fd := range doc.Fields {
		ft := domain.Text()
		if fd.Type != "" {
			kind, ok := domain.ParseFieldKind(fd.Type)
			if !ok {
				return nil, ValidationError{Field: fmt.Sprintf("fields[%d].type", i), Message: fmt.Sprintf("unknown field type %q", fd.Type)}
			}
			ft = domain.FieldType{Kind: kind}
		}
		if ft.IsCustom() {
			ft.Name = fd.CustomName
		}
		idx := d.AddField()
		d.SetField(idx, fd.Label, ft, fd.Required)
	}
	return d, nil
}

// MarshalYAML renders the draft in the format ParseDraftYAML reads.
func (d *Draft) MarshalYAML() (any, error) {
	doc := draftDocument{
		Name:           d.Name,
		Description:    d.Description,
		HeaderTemplate: d.HeaderTemplate,
		FooterTemplate: d.FooterTemplate,
		Fields:         make([]draftFieldDocument, 0, len(d.Fields)),
	}
	for _, f := range d.Fields {
		kind := f.Type.Kind
		if kind == "" {
			kind = domain.FieldText
		}
		doc.Fields = append(doc.Fields, draftFieldDocument{
			Label:      f.Label,
			Type:       string(kind),
			CustomName: f.Type.Name,
			Required:   f.Required,
		})
	}
	return doc, nil
}
