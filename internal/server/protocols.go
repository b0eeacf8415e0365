package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/protocol"
	"susm/internal/render"
)

// resolve checks a generation request and loads what it refers to. Objects
// keep the order in which the request lists them.
func (s *service) resolve(ctx context.Context, p Principal, in GenerationRequest) (domain.GenerationRequest, render.Document, error) {
	req, err := protocol.BuildRequest(in.TemplateID, in.ProjectID, protocol.NewSelection(in.ObjectIDs...))
	if err != nil {
		return req, render.Document{}, err
	}
	req.Data = in.Data
	tpl, err := s.repo.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return req, render.Document{}, fmt.Errorf("template %s: %w", req.TemplateID, err)
	}
	project, err := s.ownedProject(ctx, p, req.ProjectID)
	if err != nil {
		return req, render.Document{}, err
	}
	byID := make(map[string]domain.Object, len(project.Objects))
	for _, o := range project.Objects {
		byID[string(o.ID)] = o
	}
	objects := make([]domain.Object, 0, len(req.ObjectIDs))
	for _, id := range req.ObjectIDs {
		o, ok := byID[id]
		if !ok {
			return req, render.Document{}, fmt.Errorf("%w: object %s does not belong to project %s", protocol.ErrInvalidRequest, id, req.ProjectID)
		}
		objects = append(objects, o)
	}
	return req, render.Document{
		Template:    tpl.Payload(),
		Project:     project,
		Objects:     objects,
		Data:        req.Data,
		GeneratedAt: s.now(),
		GeneratedBy: p.actor(),
	}, nil
}

func registerProtocols(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/preview",
		Summary:     "Preview the structure of a protocol",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body GenerationRequest `json:"body"`
	}) (*struct {
		Body domain.PreviewData `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, doc, err := s.resolve(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PreviewData `json:"body"`
		}{Body: render.Preview(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/generate",
		Summary:     "Generate a protocol document",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body GenerationRequest `json:"body"`
	}) (*pdfOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, doc, err := s.resolve(ctx, p, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		pdf, err := render.Protocol(doc)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := s.storeProtocol(ctx, p, req, doc, pdf)
		if err != nil {
			return nil, handleError(err)
		}
		s.logger.Info("protocol generated",
			zap.String("project_id", req.ProjectID),
			zap.String("protocol_id", string(rec.ID)),
			zap.Int("objects", len(req.ObjectIDs)),
			zap.Int("bytes", len(pdf)),
		)
		return newPDFOutput(protocol.DocumentName(doc.GeneratedAt), pdf), nil
	})
}

// storeProtocol appends the record and its event in one transaction.
func (s *service) storeProtocol(ctx context.Context, p Principal, req domain.GenerationRequest, doc render.Document, pdf []byte) (domain.ProtocolRecord, error) {
	names := make([]string, 0, len(doc.Objects))
	ids := make([]domain.ObjectID, 0, len(doc.Objects))
	for _, o := range doc.Objects {
		ids = append(ids, o.ID)
		names = append(names, protocol.ObjectLabel(o))
	}
	rec := domain.ProtocolRecord{
		TemplateID:   domain.ObjectID(req.TemplateID),
		TemplateName: doc.Template.Name,
		ProjectID:    domain.ObjectID(req.ProjectID),
		ObjectIDs:    ids,
		ObjectNames:  names,
		GeneratedAt:  doc.GeneratedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		GeneratedBy:  p.actor(),
		Data:         req.Data,
	}
	tx, err := s.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	rec, err = s.repo.InsertProtocol(ctx, tx, rec, pdf)
	if err != nil {
		return rec, err
	}
	if err := s.events.Append(ctx, tx, events.ProtocolGenerated, req.ProjectID, "protocol", string(rec.ID), p.actor(), events.EventPayload{
		"template_id": req.TemplateID,
		"object_ids":  req.ObjectIDs,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}
