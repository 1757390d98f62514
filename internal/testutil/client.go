// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

// Seeded identities written on first start.
const (
	AdminEmail   = "admin@deepvisas.com"
	UserEmail    = "user@deepvisas.com"
	SeedPassword = "password123"
)

// Client is an HTTP client for the dashboard's JSON API. Redirects are not
// followed so tests can assert on Location headers.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Validator   *OpenAPIValidator
	ValidateAPI bool
	t           *testing.T
}

// NewClient creates a new test client without validation.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewClientWithValidator creates a client that checks every API response
// against the OpenAPI document.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.Validator = validator
	c.ValidateAPI = true
	return c
}

// SetT sets the testing.T for validation error reporting.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithoutValidation returns a copy of the client with validation disabled.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.ValidateAPI = false
	return &clone
}

// SignInAs signs the dashboard session in and fails the test otherwise.
func (c *Client) SignInAs(t *testing.T, email, password string) {
	t.Helper()
	c.t = t

	resp, err := c.POST("/api/v1/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		t.Fatalf("sign in request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("sign in failed: status=%d body=%s", resp.StatusCode, body)
	}
}

// SignInAsAdmin signs in as the seeded admin.
func (c *Client) SignInAsAdmin(t *testing.T) {
	t.Helper()
	c.SignInAs(t, AdminEmail, SeedPassword)
}

// SignInAsUser signs in as the seeded user.
func (c *Client) SignInAsUser(t *testing.T) {
	t.Helper()
	c.SignInAs(t, UserEmail, SeedPassword)
}

// SignOut ends the dashboard session.
func (c *Client) SignOut(t *testing.T) {
	t.Helper()
	resp, err := c.POST("/api/v1/auth/signout", nil)
	if err != nil {
		t.Fatalf("sign out request failed: %v", err)
	}
	_ = resp.Body.Close()
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

// POST performs a POST request with JSON body.
func (c *Client) POST(path string, body interface{}) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *Client) do(method, path string, body interface{}) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		checkReq, _ := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(bodyBytes))
		checkReq.Header = req.Header
		c.Validator.ValidateRequest(c.t, checkReq)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if c.ValidateAPI && c.Validator != nil && c.t != nil {
		validationReq, _ := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(bodyBytes))
		validationReq.Header = req.Header
		c.Validator.ValidateResponse(c.t, validationReq, resp)
	}

	return resp, nil
}

// DecodeJSON decodes response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and returns response body as string.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// RandomEmail returns an address no other test uses.
func RandomEmail() string {
	return fmt.Sprintf("applicant-%s@example.com", uuid.NewString()[:8])
}
