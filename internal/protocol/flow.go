package protocol

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"susm/internal/domain"
)

// Generator is the remote side of protocol generation.
type Generator interface {
	PreviewProtocol(ctx context.Context, req domain.GenerationRequest) (domain.PreviewData, error)
	GenerateProtocol(ctx context.Context, req domain.GenerationRequest) ([]byte, error)
}

// Document is a generated protocol ready to be saved.
type Document struct {
	Name    string
	Data    []byte
	Request domain.GenerationRequest
}

// DocumentName names a generated protocol after its generation time.
func DocumentName(t time.Time) string {
	return fmt.Sprintf("protocol_%d.pdf", t.UnixMilli())
}

// GenerationFlow holds the state of one protocol generation: the project, its
// candidate objects, the object selection and the chosen template. A second
// Preview or Generate while one is running fails with ErrBusy.
type GenerationFlow struct {
	ProjectID  string
	TemplateID string
	Selection  *Selection
	// Data is passed through to the renderer untouched.
	Data map[string]any
	Now  func() time.Time

	objects []domain.Object
	busy    atomic.Bool
	logger  *zap.Logger
}

// NewGenerationFlow starts a flow with every candidate object selected.
func NewGenerationFlow(projectID string, objects []domain.Object, logger *zap.Logger) *GenerationFlow {
	f := &GenerationFlow{
		ProjectID: projectID,
		Selection: NewSelection(),
		Now:       time.Now,
		logger:    nopIfNil(logger),
	}
	f.SetObjects(objects)
	return f
}

// SetObjects replaces the candidate objects and realigns the selection.
func (f *GenerationFlow) SetObjects(objects []domain.Object) bool {
	f.objects = objects
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, o.ID.String())
	}
	narrowed := f.Selection.Reinitialize(ids)
	if narrowed {
		f.logger.Debug("object selection narrowed", zap.Int("selected", f.Selection.Len()))
	}
	return narrowed
}

func (f *GenerationFlow) Objects() []domain.Object { return f.objects }

// Busy reports whether a remote call is in flight.
func (f *GenerationFlow) Busy() bool { return f.busy.Load() }

// Request builds the generation request from the current state.
func (f *GenerationFlow) Request() (domain.GenerationRequest, error) {
	req, err := BuildRequest(f.TemplateID, f.ProjectID, f.Selection)
	if err != nil {
		return req, err
	}
	if len(f.Data) > 0 {
		req.Data = f.Data
	}
	return req, nil
}

// Preview fetches the structured preview for the current selection.
func (f *GenerationFlow) Preview(ctx context.Context, g Generator) (domain.PreviewData, error) {
	req, err := f.Request()
	if err != nil {
		return domain.PreviewData{}, err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return domain.PreviewData{}, ErrBusy
	}
	defer f.busy.Store(false)
	data, err := g.PreviewProtocol(ctx, req)
	if err != nil {
		f.logger.Warn("protocol preview failed", zap.String("project_id", req.ProjectID), zap.Error(err))
		return domain.PreviewData{}, remote("preview protocol", err)
	}
	return data, nil
}

// Generate renders the protocol remotely and names the resulting document.
func (f *GenerationFlow) Generate(ctx context.Context, g Generator) (Document, error) {
	req, err := f.Request()
	if err != nil {
		return Document{}, err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return Document{}, ErrBusy
	}
	defer f.busy.Store(false)
	data, err := g.GenerateProtocol(ctx, req)
	if err != nil {
		f.logger.Warn("protocol generation failed", zap.String("project_id", req.ProjectID), zap.Error(err))
		return Document{}, remote("generate protocol", err)
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	doc := Document{Name: DocumentName(now()), Data: data, Request: req}
	f.logger.Info("protocol generated",
		zap.String("project_id", req.ProjectID),
		zap.String("template_id", req.TemplateID),
		zap.Int("objects", len(req.ObjectIDs)),
		zap.Int("bytes", len(data)),
	)
	return doc, nil
}
