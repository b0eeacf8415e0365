package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/protocol"
	"susm/internal/render"
)

// templatePayload applies the draft rules huma's schema cannot express.
func templatePayload(ctx context.Context, p domain.TemplatePayload) (domain.TemplatePayload, error) {
	if err := requireBody(ctx); err != nil {
		return p, err
	}
	draft := protocol.FromTemplate(domain.ProtocolTemplate{Name: p.Name, Fields: p.Fields})
	if err := draft.Validate(); err != nil {
		return p, err
	}
	if p.Fields == nil {
		p.Fields = []domain.ProtocolField{}
	}
	return p, nil
}

func registerTemplates(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/protocols/templates",
		Summary:     "List protocol templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ProtocolTemplate `json:"body"`
	}, error) {
		items, err := s.repo.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProtocolTemplate `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/protocols/templates/{template_id}",
		Summary:     "Get protocol template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.ProtocolTemplate `json:"body"`
	}, error) {
		t, err := s.repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(fmt.Errorf("template %s: %w", input.TemplateID, err))
		}
		return &struct {
			Body domain.ProtocolTemplate `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/protocols/templates",
		Summary:       "Create protocol template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.TemplatePayload `json:"body"`
	}) (*struct {
		Body domain.ProtocolTemplate `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, err := templatePayload(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := s.repo.InsertTemplate(ctx, nil, payload)
		if err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, events.TemplateSaved, "", "template", string(t.ID), p.actor(), events.EventPayload{"name": t.Name, "fields": len(t.Fields)})
		return &struct {
			Body domain.ProtocolTemplate `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPut,
		Path:        "/protocols/templates/{template_id}",
		Summary:     "Replace protocol template",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
		Body       domain.TemplatePayload `json:"body"`
	}) (*struct {
		Body domain.ProtocolTemplate `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, err := templatePayload(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := s.repo.UpdateTemplate(ctx, nil, input.TemplateID, payload)
		if err != nil {
			return nil, handleError(fmt.Errorf("template %s: %w", input.TemplateID, err))
		}
		s.record(ctx, events.TemplateSaved, "", "template", string(t.ID), p.actor(), events.EventPayload{"name": t.Name, "fields": len(t.Fields)})
		return &struct {
			Body domain.ProtocolTemplate `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/protocols/templates/{template_id}",
		Summary:     "Delete protocol template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.repo.DeleteTemplate(ctx, nil, input.TemplateID); err != nil {
			return nil, handleError(fmt.Errorf("template %s: %w", input.TemplateID, err))
		}
		s.record(ctx, events.TemplateDeleted, "", "template", input.TemplateID, p.actor(), nil)
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-template",
		Method:      http.MethodPost,
		Path:        "/protocols/templates/preview",
		Summary:     "Render a sample document for a template draft",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.TemplatePayload `json:"body"`
	}) (*pdfOutput, error) {
		payload, err := templatePayload(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		pdf, err := render.TemplateSample(payload, s.now())
		if err != nil {
			return nil, handleError(err)
		}
		return newPDFOutput("template_preview.pdf", pdf), nil
	})
}
