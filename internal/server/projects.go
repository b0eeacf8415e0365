package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/protocol"
	"susm/internal/repo"
)

// ownedProject loads a project owned by the caller. Foreign projects are
// reported as missing.
func (s *service) ownedProject(ctx context.Context, p Principal, id string) (domain.Project, error) {
	owner, err := s.repo.ProjectOwner(ctx, id)
	if err != nil || owner != p.UserID {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, repo.ErrNotFound)
	}
	return s.repo.GetProject(ctx, id)
}

func registerProjects(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.repo.ListProjects(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := s.repo.InsertProject(ctx, nil, input.Body.project(), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, events.ProjectCreated, string(created.ID), "project", string(created.ID), p.actor(), events.EventPayload{"name": created.Name})
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with objects and generated protocols",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := s.ownedProject(ctx, p, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-object",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/objects",
		Summary:       "Add an object to a project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateObjectRequest `json:"body"`
	}) (*struct {
		Body domain.Object `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := s.ownedProject(ctx, p, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		o, err := s.repo.InsertObject(ctx, nil, input.ProjectID, input.Body.object())
		if err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, events.ObjectAdded, input.ProjectID, "object", string(o.ID), p.actor(), events.EventPayload{"label": protocol.ObjectLabel(o)})
		return &struct {
			Body domain.Object `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-protocol",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/protocols/{protocol_id}/download",
		Summary:     "Download a generated protocol",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		ProtocolID string `path:"protocol_id"`
	}) (*pdfOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := s.ownedProject(ctx, p, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		pdf, err := s.repo.ProtocolPDF(ctx, input.ProjectID, input.ProtocolID)
		if err != nil {
			return nil, handleError(fmt.Errorf("protocol %s: %w", input.ProtocolID, err))
		}
		name := "protocol_" + input.ProtocolID + ".pdf"
		for _, rec := range project.Protocols {
			if ts, ok := protocol.GeneratedTime(rec); ok && string(rec.ID) == input.ProtocolID {
				name = protocol.DocumentName(ts)
			}
		}
		return newPDFOutput(name, pdf), nil
	})
}
