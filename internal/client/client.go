package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"susm/internal/domain"
)

// Options configure a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Client talks to the susm backend API. It never retries on its own; a failed
// call is reported and repeated only when the caller asks again.
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
	logger  *zap.Logger
}

// New creates a client with sane defaults.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	rc.SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{baseURL: base, token: opts.Token, http: rc, logger: logger}
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken sets the bearer token sent with authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// HasToken reports whether authenticated calls will carry a bearer token.
func (c *Client) HasToken() bool { return c.token != "" }

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string { return e.Message }

func newAPIError(status int, body []byte) *APIError {
	detail := serverMessage(body)
	var msg string
	switch status {
	case http.StatusBadRequest:
		msg = "Bad Request: " + orDefault(detail, "Invalid input")
	case http.StatusNotFound:
		msg = "Not Found: " + orDefault(detail, "Resource not found")
	case http.StatusInternalServerError:
		msg = "Server Error: " + orDefault(detail, "Internal server error")
	default:
		msg = fmt.Sprintf("Error %d: %s", status, orDefault(detail, http.StatusText(status)))
	}
	return &APIError{StatusCode: status, Message: msg, Body: string(body)}
}

// serverMessage extracts "message" from either a flat body or the
// {"error": {...}} envelope.
func serverMessage(body []byte) string {
	var flat struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		return ""
	}
	if flat.Message != "" {
		return flat.Message
	}
	var nested struct {
		Message string `json:"message"`
	}
	if len(flat.Error) > 0 && json.Unmarshal(flat.Error, &nested) == nil {
		return nested.Message
	}
	var s string
	if len(flat.Error) > 0 && json.Unmarshal(flat.Error, &s) == nil {
		return s
	}
	return ""
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, user domain.User) (domain.User, error) {
	var resp domain.User
	err := c.do(ctx, http.MethodPost, "register", nil, user, &resp)
	return resp, err
}

// Login exchanges credentials for a session token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	res, err := c.execute(c.request(ctx, nil, domain.Credentials{Email: email, Password: password}), http.MethodPost, "login")
	if err != nil {
		return "", err
	}
	token := parseToken(res.Body())
	if token == "" {
		return "", fmt.Errorf("login: empty token in response")
	}
	c.token = token
	return token, nil
}

// parseToken accepts a JSON string, a {"token": ...} object or raw text.
func parseToken(body []byte) string {
	body = bytes.TrimSpace(body)
	var s string
	if json.Unmarshal(body, &s) == nil {
		return s
	}
	var obj struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(body, &obj) == nil && obj.Token != "" {
		return obj.Token
	}
	if len(body) > 0 && body[0] != '{' && body[0] != '[' {
		return string(body)
	}
	return ""
}

// Logout ends the server session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "logout", nil, map[string]any{}, nil)
	c.token = ""
	return err
}

// ListProjects returns all projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var resp []domain.Project
	err := c.do(ctx, http.MethodGet, "projects", nil, nil, &resp)
	return resp, err
}

// GetProject returns a project with its objects and generated protocols.
func (c *Client) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var resp domain.Project
	err := c.do(ctx, http.MethodGet, "projects/{id}", params("id", id), nil, &resp)
	return resp, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	var resp domain.Project
	err := c.do(ctx, http.MethodPost, "projects", nil, p, &resp)
	return resp, err
}

// AddObject adds an object to a project.
func (c *Client) AddObject(ctx context.Context, projectID string, o domain.Object) (domain.Object, error) {
	var resp domain.Object
	err := c.do(ctx, http.MethodPost, "projects/{id}/objects", params("id", projectID), o, &resp)
	return resp, err
}

// ListTemplates returns every protocol template.
func (c *Client) ListTemplates(ctx context.Context) ([]domain.ProtocolTemplate, error) {
	var resp []domain.ProtocolTemplate
	err := c.do(ctx, http.MethodGet, "protocols/templates", nil, nil, &resp)
	return resp, err
}

// GetTemplate fetches one template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (domain.ProtocolTemplate, error) {
	var resp domain.ProtocolTemplate
	err := c.do(ctx, http.MethodGet, "protocols/templates/{id}", params("id", id), nil, &resp)
	return resp, err
}

// CreateTemplate stores a new template.
func (c *Client) CreateTemplate(ctx context.Context, payload domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	var resp domain.ProtocolTemplate
	err := c.do(ctx, http.MethodPost, "protocols/templates", nil, payload, &resp)
	return resp, err
}

// UpdateTemplate replaces an existing template.
func (c *Client) UpdateTemplate(ctx context.Context, id string, payload domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	var resp domain.ProtocolTemplate
	err := c.do(ctx, http.MethodPut, "protocols/templates/{id}", params("id", id), payload, &resp)
	return resp, err
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "protocols/templates/{id}", params("id", id), nil, nil)
}

// PreviewTemplate renders a sample document for an unsaved template.
func (c *Client) PreviewTemplate(ctx context.Context, payload domain.TemplatePayload) ([]byte, error) {
	return c.binary(ctx, http.MethodPost, "protocols/templates/preview", nil, payload)
}

// PreviewProtocol returns the structure a generation would produce.
func (c *Client) PreviewProtocol(ctx context.Context, req domain.GenerationRequest) (domain.PreviewData, error) {
	var resp domain.PreviewData
	err := c.do(ctx, http.MethodPost, "protocols/preview", nil, req, &resp)
	return resp, err
}

// GenerateProtocol renders the protocol and returns the PDF bytes.
func (c *Client) GenerateProtocol(ctx context.Context, req domain.GenerationRequest) ([]byte, error) {
	return c.binary(ctx, http.MethodPost, "protocols/generate", nil, req)
}

// DownloadProtocol fetches a previously generated protocol.
func (c *Client) DownloadProtocol(ctx context.Context, projectID, protocolID string) ([]byte, error) {
	return c.binary(ctx, http.MethodGet, "projects/{id}/protocols/{protocol_id}/download",
		map[string]string{"id": projectID, "protocol_id": protocolID}, nil)
}

func params(k, v string) map[string]string {
	return map[string]string{k: v}
}

// do runs a JSON call; resty decodes a successful body into out.
func (c *Client) do(ctx context.Context, method, endpoint string, pathParams map[string]string, body, out any) error {
	req := c.request(ctx, pathParams, body)
	if out != nil {
		req.SetResult(out).ForceContentType("application/json")
	}
	_, err := c.execute(req, method, endpoint)
	return err
}

func (c *Client) binary(ctx context.Context, method, endpoint string, pathParams map[string]string, body any) ([]byte, error) {
	req := c.request(ctx, pathParams, body).SetHeader("Accept", "application/pdf, application/octet-stream")
	res, err := c.execute(req, method, endpoint)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (c *Client) request(ctx context.Context, pathParams map[string]string, body any) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if len(pathParams) > 0 {
		req.SetPathParams(pathParams)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return req
}

func (c *Client) execute(req *resty.Request, method, endpoint string) (*resty.Response, error) {
	if c.token != "" && !authFree(endpoint) {
		req.SetAuthToken(c.token)
	}
	start := time.Now()
	res, err := req.Execute(method, "/"+strings.TrimLeft(endpoint, "/"))
	if err != nil {
		c.logger.Error("api call failed", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", res.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	if res.IsError() {
		apiErr := newAPIError(res.StatusCode(), res.Body())
		c.logger.Error("api error", zap.String("endpoint", endpoint), zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		return nil, apiErr
	}
	return res, nil
}

func authFree(endpoint string) bool {
	e := strings.Trim(endpoint, "/")
	return e == "login" || e == "register"
}
