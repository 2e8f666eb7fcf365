package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds a single backend call. Commit requests run
// many calls in parallel; an unbounded call would stall the whole summary.
const DefaultRequestTimeout = 10 * time.Second

// APIError is a non-2xx response from the backend, preserving the status
// code and the server's message verbatim for the failure summary.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return e.Message
}

// Client talks to the remote student collection over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. An empty timeout
// falls back to DefaultRequestTimeout. The token, when set, is sent as a
// bearer credential on every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateStudent adds a new student to the collection.
func (c *Client) CreateStudent(ctx context.Context, s Student) (*ExistingStudent, error) {
	var created ExistingStudent
	if err := c.do(ctx, http.MethodPost, "/students", s, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateStudent applies a sparse partial update to an existing student.
func (c *Client) UpdateStudent(ctx context.Context, id string, u StudentUpdate) (*ExistingStudent, error) {
	var updated ExistingStudent
	path := "/students/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, u, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListStudentsByDivision fetches the authoritative roster for a division.
func (c *Client) ListStudentsByDivision(ctx context.Context, divisionID string) ([]ExistingStudent, error) {
	var students []ExistingStudent
	path := "/divisions/" + url.PathEscape(divisionID) + "/students"
	if err := c.do(ctx, http.MethodGet, path, nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// do sends one JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError extracts the server's message from an error response.
// The backend uses either {"error": "..."} or {"message": "..."}.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			apiErr.Message = body.Error
		} else if body.Message != "" {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" && len(data) > 0 {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
