package protocol

import (
	"strings"

	"susm/internal/domain"
)

// BuildRequest composes a generation request. It performs no I/O; the same
// request serves both preview and generate.
func BuildRequest(templateID, projectID string, selection *Selection) (domain.GenerationRequest, error) {
	if strings.TrimSpace(templateID) == "" {
		return domain.GenerationRequest{}, invalidRequest("template_id")
	}
	if strings.TrimSpace(projectID) == "" {
		return domain.GenerationRequest{}, invalidRequest("project_id")
	}
	if !selection.HasSelection() {
		return domain.GenerationRequest{}, invalidRequest("object selection")
	}
	return domain.GenerationRequest{
		TemplateID: templateID,
		ProjectID:  projectID,
		ObjectIDs:  selection.IDs(),
	}, nil
}
