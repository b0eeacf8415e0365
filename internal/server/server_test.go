package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"susm/internal/db"
	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/migrate"
	"susm/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	repo   repo.Repo
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	handler, err := New(Config{Repo: r, Auth: AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		repo:   r,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, email string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/register", map[string]any{
		"name": "Tester", "email": email, "password": "secret1", "language": "en",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/login", map[string]any{
		"email": email, "password": "secret1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var token string
	if err := json.Unmarshal(data, &token); err != nil || token == "" {
		t.Fatalf("login body %s: %v", string(data), err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", string(data), err)
	}
	return env.Error
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if e := decodeError(t, data); e.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", e.Code)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	login(t, srv, "a@example.com")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/login", map[string]any{
		"email": "a@example.com", "password": "nope",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/register", map[string]any{
		"name": "Again", "email": "a@example.com", "password": "secret1", "language": "en",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", res.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "a@example.com")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/logout", map[string]any{}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/projects", nil, auth)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to fail, got %d", res.StatusCode)
	}
	if e := decodeError(t, data); e.Message != "session ended" {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "a@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates", map[string]any{
		"name": "Handover",
		"fields": []map[string]any{
			{"label": "Meter", "field_type": map[string]string{"custom": "Meter reading"}, "required": true, "order": 0},
			{"label": "When", "field_type": "date", "required": false, "order": 1},
		},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.ProtocolTemplate
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	if created.ID == "" || len(created.Fields) != 2 {
		t.Fatalf("unexpected template %+v", created)
	}
	if created.Fields[0].Type != domain.Custom("Meter reading") || created.Fields[1].Type != domain.Date() {
		t.Fatalf("field types lost: %+v", created.Fields)
	}
	if !strings.Contains(string(data), `"$oid"`) {
		t.Fatalf("expected object id envelope: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/protocols/templates/"+string(created.ID), map[string]any{
		"name":   "Handover v2",
		"fields": []map[string]any{{"label": "", "field_type": "text", "required": false, "order": 0}},
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty label, got %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "validation_failed" || e.Details["field"] != "fields[0].label" {
		t.Fatalf("unexpected validation error %+v", e)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/protocols/templates/"+string(created.ID), map[string]any{
		"name": "Handover v2", "fields": []any{},
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates/preview", map[string]any{
		"name": "Draft", "fields": []any{},
	}, auth)
	if res.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("preview status %d, content-type %s", res.StatusCode, res.Header.Get("Content-Type"))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/protocols/templates/"+string(created.ID), nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/protocols/templates/"+string(created.ID), nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
	if e := decodeError(t, data); !strings.Contains(e.Message, "not found") {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestGenerateProtocol(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "a@example.com")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/projects", map[string]any{
		"name": "Tower", "address": map[string]any{"street": "Main", "postal_code": "1010"},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	projectURL := srv.URL + "/projects/" + string(project.ID)

	var objectIDs []string
	for _, house := range []string{"5", "7"} {
		res, data = doJSON(t, client, http.MethodPost, projectURL+"/objects", map[string]any{
			"address": map[string]any{"street": "Main", "house_number": house},
		}, auth)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add object status %d: %s", res.StatusCode, string(data))
		}
		var o domain.Object
		if err := json.Unmarshal(data, &o); err != nil {
			t.Fatalf("unmarshal object: %v", err)
		}
		objectIDs = append(objectIDs, string(o.ID))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates", map[string]any{
		"name":   "Handover",
		"fields": []map[string]any{{"label": "Meter", "field_type": "number", "required": true, "order": 0}},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template status %d: %s", res.StatusCode, string(data))
	}
	var tpl domain.ProtocolTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/generate", map[string]any{
		"template_id": string(tpl.ID), "project_id": string(project.ID),
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without objects, got %d: %s", res.StatusCode, string(data))
	}

	req := map[string]any{
		"template_id": string(tpl.ID),
		"project_id":  string(project.ID),
		"object_ids":  []string{objectIDs[1], objectIDs[0]},
		"data":        map[string]any{"Meter": 12},
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/preview", req, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview status %d: %s", res.StatusCode, string(data))
	}
	var preview domain.PreviewData
	if err := json.Unmarshal(data, &preview); err != nil {
		t.Fatalf("unmarshal preview: %v", err)
	}
	if len(preview.ContentSections) != 2 || preview.ContentSections[0].ObjectAddress != "Main 7" {
		t.Fatalf("unexpected preview %+v", preview)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/generate", req, auth)
	if res.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("generate status %d: %.200s", res.StatusCode, string(data))
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "protocol_") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	generated := data

	res, data = doJSON(t, client, http.MethodGet, projectURL, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}
	project = domain.Project{}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(project.Objects) != 2 || len(project.Protocols) != 1 {
		t.Fatalf("unexpected project %+v", project)
	}
	rec := project.Protocols[0]
	if rec.TemplateName != "Handover" || strings.Join(rec.ObjectNames, "|") != "Main 7|Main 5" {
		t.Fatalf("unexpected record %+v", rec)
	}

	res, data = doJSON(t, client, http.MethodGet, projectURL+"/protocols/"+string(rec.ID)+"/download", nil, auth)
	if res.StatusCode != http.StatusOK || !bytes.Equal(data, generated) {
		t.Fatalf("download status %d, %d bytes", res.StatusCode, len(data))
	}

	other := login(t, srv, "b@example.com")
	res, _ = doJSON(t, client, http.MethodGet, projectURL, nil, other)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign project should be hidden, got %d", res.StatusCode)
	}

	evts, err := events.List(context.Background(), srv.repo.DB, string(project.ID), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) == 0 || evts[0].Type != events.ProtocolGenerated {
		t.Fatalf("expected protocol.generated event first, got %+v", evts)
	}
}

func TestTemplateBodyFollowsFieldWireForm(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := login(t, srv, "a@example.com")
	client := srv.Client()

	valid := map[string]any{
		"name":   "T",
		"fields": []map[string]any{{"label": "A", "field_type": "text", "required": false, "order": 0}},
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates", valid, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates/preview", valid, auth)
	if res.StatusCode != http.StatusOK || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("preview status %d: %.200s", res.StatusCode, string(data))
	}

	for name, fieldType := range map[string]any{
		"number":          42,
		"bare custom tag": "custom",
		"unknown object":  map[string]any{"kind": "x"},
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/protocols/templates", map[string]any{
			"name":   "T",
			"fields": []map[string]any{{"label": "A", "field_type": fieldType, "required": false, "order": 0}},
		}, auth)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected rejection, got %d: %s", name, res.StatusCode, string(data))
		}
	}
}
