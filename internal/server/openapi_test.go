package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPIDocumentLoads(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi-3.0.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	loader := openapi3.NewLoader()
	loader.Context = context.Background()
	doc, err := loader.LoadFromData(data)
	require.NoError(t, err)

	for _, route := range []string{
		"/login", "/register", "/projects", "/projects/{project_id}/objects",
		"/protocols/templates", "/protocols/templates/{template_id}",
		"/protocols/preview", "/protocols/generate",
	} {
		assert.NotNil(t, doc.Paths.Value(route), "route %s documented", route)
	}

	scheme := doc.Components.SecuritySchemes["bearerAuth"]
	require.NotNil(t, scheme)
	assert.Equal(t, "bearer", scheme.Value.Scheme)

	payload := doc.Components.Schemas["TemplatePayload"]
	require.NotNil(t, payload, "TemplatePayload schema")
	fields := payload.Value.Properties["fields"]
	require.NotNil(t, fields)
	require.NotNil(t, fields.Value.Items)
	fieldType := fields.Value.Items.Value.Properties["field_type"]
	require.NotNil(t, fieldType)
	assert.Len(t, fieldType.Value.OneOf, 2)

	list := doc.Paths.Value("/projects").Get
	require.NotNil(t, list)
	require.NotNil(t, list.Security)
	assert.Contains(t, *list.Security, openapi3.SecurityRequirement{"bearerAuth": []string{}})
}
