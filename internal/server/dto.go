package server

import (
	"strings"

	"susm/internal/domain"
)

// Request payloads

type AddressRequest struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type RegisterRequest struct {
	Name      string          `json:"name" minLength:"1"`
	Email     string          `json:"email" format:"email"`
	Password  string          `json:"password" minLength:"6"`
	Language  string          `json:"language,omitempty"`
	Addresses *AddressRequest `json:"addresses,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateProjectRequest struct {
	Name       string          `json:"name" minLength:"1"`
	Address    *AddressRequest `json:"address,omitempty"`
	Note       string          `json:"note,omitempty"`
	Status     string          `json:"status,omitempty" enum:"created,in_progress,rejected,verified,closed"`
	Categories []string        `json:"categories,omitempty"`
}

type ObjectAddressRequest struct {
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
	Level       string `json:"level,omitempty"`
	DoorNumber  string `json:"door_number,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
}

type CreateObjectRequest struct {
	Address  ObjectAddressRequest `json:"address"`
	Note     string               `json:"note,omitempty"`
	Status   string               `json:"status,omitempty" enum:"created,in_progress,rejected,verified,closed"`
	Category string               `json:"category,omitempty"`
}

// GenerationRequest mirrors domain.GenerationRequest with every member
// optional so that missing parts are reported by the generation checks
// rather than by schema validation.
type GenerationRequest struct {
	TemplateID string         `json:"template_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	ObjectIDs  []string       `json:"object_ids,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Response payloads

type StatusResponse struct {
	Status string `json:"status"`
}

type pdfOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func newPDFOutput(name string, data []byte) *pdfOutput {
	return &pdfOutput{
		ContentType:        "application/pdf",
		ContentDisposition: `attachment; filename="` + name + `"`,
		Body:               data,
	}
}

func (r RegisterRequest) user() domain.User {
	u := domain.User{
		Name:     strings.TrimSpace(r.Name),
		Email:    r.Email,
		Language: r.Language,
	}
	if r.Addresses != nil {
		u.Address = &domain.ProjectAddress{Street: r.Addresses.Street, PostalCode: r.Addresses.PostalCode}
	}
	return u
}

func (r CreateProjectRequest) project() domain.Project {
	p := domain.Project{
		Name:       strings.TrimSpace(r.Name),
		Note:       r.Note,
		Status:     domain.WorkStatus(r.Status),
		Categories: r.Categories,
	}
	if r.Address != nil {
		p.Address = &domain.ProjectAddress{Street: r.Address.Street, PostalCode: r.Address.PostalCode}
	}
	return p
}

func (r CreateObjectRequest) object() domain.Object {
	a := r.Address
	return domain.Object{
		Address: domain.ObjectAddress{
			Street:      strings.TrimSpace(a.Street),
			HouseNumber: strings.TrimSpace(a.HouseNumber),
			Level:       strings.TrimSpace(a.Level),
			DoorNumber:  strings.TrimSpace(a.DoorNumber),
			PostalCode:  strings.TrimSpace(a.PostalCode),
		},
		Note:     r.Note,
		Status:   domain.WorkStatus(r.Status),
		Category: r.Category,
	}
}

func (r GenerationRequest) domain() domain.GenerationRequest {
	return domain.GenerationRequest{
		TemplateID: r.TemplateID,
		ProjectID:  r.ProjectID,
		ObjectIDs:  r.ObjectIDs,
		Data:       r.Data,
	}
}
