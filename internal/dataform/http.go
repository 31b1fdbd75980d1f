package dataform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/seantiz/dataform-runner/internal/model"
)

const (
	// DefaultEndpoint is the public Dataform REST endpoint.
	DefaultEndpoint = "https://dataform.googleapis.com"
	// DefaultAPIVersion is the API version the request shapes follow.
	DefaultAPIVersion = "v1beta1"

	defaultRequestTimeout = 30 * time.Second
	maxResponseSize       = 4 << 20 // 4 MB

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Compile-time interface satisfaction check.
var _ Client = (*HTTPClient)(nil)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// Endpoint is the scheme and host of the API, e.g. DefaultEndpoint.
	Endpoint string
	// APIVersion is the path prefix, e.g. DefaultAPIVersion.
	APIVersion string
	// TokenSource authorizes requests. Nil sends unauthenticated requests.
	TokenSource oauth2.TokenSource
	// Timeout bounds each request. Zero uses a 30s default.
	Timeout time.Duration
	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// HTTPClient implements Client against the Dataform REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a REST client from cfg.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.Transport != nil {
		transport = cfg.Transport
	}
	if cfg.TokenSource != nil {
		transport = &oauth2.Transport{Source: cfg.TokenSource, Base: transport}
	}

	return &HTTPClient{
		baseURL: endpoint + "/" + strings.Trim(version, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// NewTokenSource returns a static token source when accessToken is set and
// Application Default Credentials otherwise.
func NewTokenSource(ctx context.Context, accessToken string) (oauth2.TokenSource, error) {
	if accessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}), nil
	}
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("default credentials: %w", err)
	}
	return ts, nil
}

// REST wire shapes. Field names follow the public JSON mapping.
type (
	wireCompilationResult struct {
		Name                  string                     `json:"name,omitempty"`
		GitCommitish          string                     `json:"gitCommitish,omitempty"`
		CodeCompilationConfig *wireCodeCompilationConfig `json:"codeCompilationConfig,omitempty"`
	}

	wireCodeCompilationConfig struct {
		Vars         map[string]string `json:"vars,omitempty"`
		SchemaSuffix string            `json:"schemaSuffix,omitempty"`
	}

	wireInvocation struct {
		Name              string                `json:"name,omitempty"`
		CompilationResult string                `json:"compilationResult,omitempty"`
		InvocationConfig  *wireInvocationConfig `json:"invocationConfig,omitempty"`
		State             string                `json:"state,omitempty"`
		InvocationTiming  *wireInterval         `json:"invocationTiming,omitempty"`
	}

	wireInvocationConfig struct {
		FullyRefreshIncrementalTablesEnabled bool `json:"fullyRefreshIncrementalTablesEnabled"`
		TransitiveDependenciesIncluded       bool `json:"transitiveDependenciesIncluded"`
		TransitiveDependentsIncluded         bool `json:"transitiveDependentsIncluded"`
	}

	wireInterval struct {
		StartTime string `json:"startTime,omitempty"`
		EndTime   string `json:"endTime,omitempty"`
	}

	wireListInvocations struct {
		WorkflowInvocations []wireInvocation `json:"workflowInvocations"`
		NextPageToken       string           `json:"nextPageToken,omitempty"`
	}

	wireError struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
)

// CreateCompilationResult implements Client.
func (c *HTTPClient) CreateCompilationResult(ctx context.Context, req CompileRequest) (model.CompilationResult, error) {
	body := wireCompilationResult{GitCommitish: req.GitCommitish}
	if len(req.Vars) > 0 || req.SchemaSuffix != "" {
		body.CodeCompilationConfig = &wireCodeCompilationConfig{
			Vars:         req.Vars,
			SchemaSuffix: req.SchemaSuffix,
		}
	}

	var out wireCompilationResult
	if err := c.do(ctx, "create_compilation_result", http.MethodPost, req.Parent+"/compilationResults", nil, body, &out); err != nil {
		return model.CompilationResult{}, err
	}

	result := model.CompilationResult{
		Name:         out.Name,
		GitCommitish: out.GitCommitish,
	}
	if out.CodeCompilationConfig != nil {
		result.Vars = out.CodeCompilationConfig.Vars
		result.SchemaSuffix = out.CodeCompilationConfig.SchemaSuffix
	}
	return result, nil
}

// CreateWorkflowInvocation implements Client.
func (c *HTTPClient) CreateWorkflowInvocation(ctx context.Context, req InvokeRequest) (model.Invocation, error) {
	body := wireInvocation{
		CompilationResult: req.CompilationResult,
		InvocationConfig: &wireInvocationConfig{
			FullyRefreshIncrementalTablesEnabled: req.FullRefresh,
			TransitiveDependenciesIncluded:       req.IncludeDependencies,
			TransitiveDependentsIncluded:         req.IncludeDependents,
		},
	}

	var out wireInvocation
	if err := c.do(ctx, "create_workflow_invocation", http.MethodPost, req.Parent+"/workflowInvocations", nil, body, &out); err != nil {
		return model.Invocation{}, err
	}
	return out.toModel()
}

// GetWorkflowInvocation implements Client.
func (c *HTTPClient) GetWorkflowInvocation(ctx context.Context, name string) (model.Invocation, error) {
	var out wireInvocation
	if err := c.do(ctx, "get_workflow_invocation", http.MethodGet, name, nil, nil, &out); err != nil {
		return model.Invocation{}, err
	}
	return out.toModel()
}

// ListWorkflowInvocations implements Client. Only the first page is read.
func (c *HTTPClient) ListWorkflowInvocations(ctx context.Context, parent string, pageSize int) ([]model.Invocation, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}

	var out wireListInvocations
	if err := c.do(ctx, "list_workflow_invocations", http.MethodGet, parent+"/workflowInvocations", query, nil, &out); err != nil {
		return nil, err
	}

	invocations := make([]model.Invocation, 0, len(out.WorkflowInvocations))
	for _, w := range out.WorkflowInvocations {
		inv, err := w.toModel()
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	if pageSize > 0 && len(invocations) > pageSize {
		invocations = invocations[:pageSize]
	}
	return invocations, nil
}

// do performs one JSON request and decodes the response into out. The method
// label is used for metrics only.
func (c *HTTPClient) do(ctx context.Context, method, verb, resource string, query url.Values, in, out any) (err error) {
	start := time.Now()
	defer func() { observeRequest(method, err, time.Since(start)) }()

	u := c.baseURL + "/" + strings.TrimPrefix(resource, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", method, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, verb, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		return fmt.Errorf("%s: %w: %v", method, ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %v", method, ErrRemoteUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", method, classify(resp.StatusCode, data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// classify maps an HTTP error response onto the error taxonomy.
func classify(status int, body []byte) error {
	detail := http.StatusText(status)
	var we wireError
	if json.Unmarshal(body, &we) == nil && we.Error.Message != "" {
		detail = we.Error.Message
		if we.Error.Status != "" {
			detail = we.Error.Status + ": " + detail
		}
	}

	var sentinel error
	switch {
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		sentinel = ErrRemoteUnavailable
	default:
		sentinel = ErrRemoteRejected
	}
	return fmt.Errorf("%w (http %d): %s", sentinel, status, detail)
}

func (w wireInvocation) toModel() (model.Invocation, error) {
	inv := model.Invocation{
		Name:              w.Name,
		CompilationResult: w.CompilationResult,
		State:             model.ParseState(w.State),
	}
	if w.InvocationTiming == nil {
		return inv, nil
	}
	if w.InvocationTiming.StartTime != "" {
		ts, err := model.ParseTimestamp(w.InvocationTiming.StartTime)
		if err != nil {
			return model.Invocation{}, fmt.Errorf("invocation %s: %w", w.Name, err)
		}
		inv.StartTime = &ts
	}
	if w.InvocationTiming.EndTime != "" {
		ts, err := model.ParseTimestamp(w.InvocationTiming.EndTime)
		if err != nil {
			return model.Invocation{}, fmt.Errorf("invocation %s: %w", w.Name, err)
		}
		inv.EndTime = &ts
	}
	return inv, nil
}
