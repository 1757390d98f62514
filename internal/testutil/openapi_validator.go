package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// apiPrefix marks the JSON API. Pages and health checks are not described by the
// OpenAPI document and are never validated.
const apiPrefix = "/api/v1/"

// OpenAPIValidator checks API traffic against api/openapi/openapi.yaml.
type OpenAPIValidator struct {
	router routers.Router
}

// LoadOpenAPIValidator loads and validates the document at docPath.
func LoadOpenAPIValidator(docPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromFile(docPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document from %s: %w", docPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{router: router}, nil
}

// input resolves the documented operation for req. ok is false when req is
// outside the API or no operation matched; the latter is reported on t.
func (v *OpenAPIValidator) input(t *testing.T, req *http.Request) (*openapi3filter.RequestValidationInput, bool) {
	t.Helper()

	if !strings.HasPrefix(req.URL.Path, apiPrefix) {
		return nil, false
	}

	// The document has no servers, so match on the bare path.
	routeReq, err := http.NewRequest(req.Method, req.URL.Path, nil)
	if err != nil {
		t.Errorf("create route request: %v", err)
		return nil, false
	}
	route, pathParams, err := v.router.FindRoute(routeReq)
	if err != nil {
		t.Errorf("OpenAPI: no route found for %s %s: %v", req.Method, req.URL.Path, err)
		return nil, false
	}

	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{MultiError: true},
	}, true
}

// ValidateRequest reports a test error if req does not match the document.
func (v *OpenAPIValidator) ValidateRequest(t *testing.T, req *http.Request) {
	t.Helper()

	in, ok := v.input(t, req)
	if !ok {
		return
	}
	if err := openapi3filter.ValidateRequest(context.Background(), in); err != nil {
		t.Errorf("OpenAPI request validation failed for %s %s: %v", req.Method, req.URL.Path, err)
	}
}

// ValidateResponse reports a test error if resp is not a documented
// response of req's operation. resp.Body is read and replaced.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	in, ok := v.input(t, req)
	if !ok {
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: in,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		t.Errorf("OpenAPI response validation failed for %s %s (status %d):\n%s\nResponse body: %s",
			req.Method, req.URL.Path, resp.StatusCode, truncate(err.Error(), 500), truncate(string(body), 200))
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
