package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/domain"
	"susm/internal/protocol"
)

var (
	_ protocol.TemplateStore = (*Client)(nil)
	_ protocol.Generator     = (*Client)(nil)
)

func TestLoginSkipsBearerAndStoresToken(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path+"|"+r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/login":
			_, _ = w.Write([]byte(`"tok-123"`))
		case "/projects":
			_, _ = w.Write([]byte(`[{"_id":{"$oid":"p1"},"name":"Tower"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", Token: "stale"})
	token, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	projects, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, domain.ObjectID("p1"), projects[0].ID)

	assert.Equal(t, []string{"/login|", "/projects|Bearer tok-123"}, seen)
}

func TestParseTokenShapes(t *testing.T) {
	assert.Equal(t, "a", parseToken([]byte(`"a"`)))
	assert.Equal(t, "b", parseToken([]byte(`{"token":"b"}`)))
	assert.Equal(t, "raw", parseToken([]byte("raw\n")))
	assert.Equal(t, "", parseToken([]byte(`{"other":1}`)))
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusBadRequest, `{"message":"name missing"}`, "Bad Request: name missing"},
		{http.StatusBadRequest, ``, "Bad Request: Invalid input"},
		{http.StatusNotFound, `{"error":{"code":"not_found","message":"no template"}}`, "Not Found: no template"},
		{http.StatusNotFound, `{}`, "Not Found: Resource not found"},
		{http.StatusInternalServerError, `oops`, "Server Error: Internal server error"},
		{http.StatusForbidden, `{"error":"nope"}`, "Error 403: nope"},
		{http.StatusTeapot, ``, "Error 418: I'm a teapot"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		c := New(Options{BaseURL: srv.URL})
		_, err := c.ListTemplates(context.Background())
		srv.Close()

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "status %d", tc.status)
		assert.Equal(t, tc.status, apiErr.StatusCode)
		assert.Equal(t, tc.want, apiErr.Message)
	}
}

func TestNoAutomaticRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Token: "t"})
	_, err := c.GenerateProtocol(context.Background(), domain.GenerationRequest{TemplateID: "t", ProjectID: "p", ObjectIDs: []string{"o"}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTemplateWireShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/protocols/templates/t1", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"_id":{"$oid":"t1"},"name":"Check","fields":[{"label":"Meter","field_type":{"custom":"Meter"},"required":false,"order":0}]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	saved, err := c.UpdateTemplate(context.Background(), "t1", domain.TemplatePayload{
		Name: "Check",
		Fields: []domain.ProtocolField{
			{Label: "Meter", Type: domain.Custom("Meter")},
			{Label: "When", Type: domain.Date(), Order: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ObjectID("t1"), saved.ID)
	require.Len(t, saved.Fields, 1)
	assert.Equal(t, domain.Custom("Meter"), saved.Fields[0].Type)

	fields := got["fields"].([]any)
	assert.Equal(t, map[string]any{"custom": "Meter"}, fields[0].(map[string]any)["field_type"])
	assert.Equal(t, "date", fields[1].(map[string]any)["field_type"])
}

func TestGenerateReturnsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "application/pdf")
		var req domain.GenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"o1", "o2"}, req.ObjectIDs)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Token: "t"})
	pdf, err := c.GenerateProtocol(context.Background(), domain.GenerationRequest{TemplateID: "t", ProjectID: "p", ObjectIDs: []string{"o1", "o2"}})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(pdf))
}

func TestTypedResultsDecodeRegardlessOfContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/protocols/templates/t1":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`{"_id":{"$oid":"t1"},"name":"Check","fields":[{"label":"When","field_type":"date","required":true,"order":0}]}`))
		case "/protocols/templates/t2":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(`{"_id":{"$oid":"t2"},"name":"Plain","fields":[]}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{not json`))
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Token: "t"})
	tpl, err := c.GetTemplate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ObjectID("t1"), tpl.ID)
	require.Len(t, tpl.Fields, 1)
	assert.Equal(t, domain.Date(), tpl.Fields[0].Type)

	tpl, err = c.GetTemplate(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "Plain", tpl.Name)

	_, err = c.GetTemplate(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocols/templates/{id}")
}
