package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orchestrator/internal/domain"
)

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPClient talks to the provider's consumer workflow API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewHTTPClient(opts Options) *HTTPClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      strings.TrimSpace(opts.APIKey),
	}
}

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (c *HTTPClient) SubmitWorkflow(ctx context.Context, req SubmitRequest) (domain.Workflow, error) {
	if len(req.Steps) == 0 {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionRejectedInput, Err: errors.New("no steps")}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionRejectedInput, Err: err}
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v2/consumer/workflows", body)
	if err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionRejectedInput, Err: err}
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return domain.Workflow{}, classifySubmit(resp)
	}
	var wf domain.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode workflow: %w", err)}
	}
	if wf.ID == "" {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, StatusCode: resp.StatusCode, Err: errors.New("provider returned no workflow id")}
	}
	if wf.Status == "" {
		wf.Status = domain.StatusUnassigned
	}
	return wf, nil
}

func (c *HTTPClient) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v2/consumer/workflows/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		return domain.Workflow{}, fmt.Errorf("%w: %s", domain.ErrProviderFailure, describe(resp))
	}
	var wf domain.Workflow
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return domain.Workflow{}, fmt.Errorf("%w: decode workflow: %v", domain.ErrProviderFailure, err)
	}
	if _, err := domain.ParseStatus(string(wf.Status)); err != nil {
		return domain.Workflow{}, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	return wf, nil
}

func (c *HTTPClient) CancelWorkflow(ctx context.Context, id string) error {
	body, _ := json.Marshal(map[string]string{"status": string(domain.StatusCanceled)})
	httpReq, err := c.newRequest(ctx, http.MethodPut, "/v2/consumer/workflows/"+url.PathEscape(id), body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotCancelable)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrProviderFailure, describe(resp))
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("provider base url is not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// classifySubmit separates input the provider will never accept from transient
// capacity or availability problems.
func classifySubmit(resp *http.Response) error {
	kind := domain.SubmissionProviderUnavailable
	var cause error = errors.New(describe(resp))
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		kind = domain.SubmissionRejectedInput
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.SubmissionRejectedInput
		cause = fmt.Errorf("%w: %v", domain.ErrUnauthorized, cause)
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
	default:
		if resp.StatusCode < http.StatusInternalServerError {
			kind = domain.SubmissionRejectedInput
		}
	}
	return &domain.SubmissionError{Kind: kind, StatusCode: resp.StatusCode, Err: cause}
}

func describe(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			if body.Detail != "" {
				return fmt.Sprintf("http %d: %s (%s)", resp.StatusCode, msg, body.Detail)
			}
			return fmt.Sprintf("http %d: %s", resp.StatusCode, msg)
		}
	}
	return fmt.Sprintf("http %d", resp.StatusCode)
}

var _ Client = (*HTTPClient)(nil)
