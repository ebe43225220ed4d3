package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// DefaultTimeout bounds every request made by HTTPClient.
const DefaultTimeout = 15 * time.Second

// HTTPClient implements OccupancyClient using the atlasgrid HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Live state ---

func (c *HTTPClient) ListSpaces(ctx context.Context, req *ListSpacesRequest) ([]model.SpaceSnapshot, error) {
	q := url.Values{}
	if req != nil {
		if req.Section != "" {
			q.Set("section", req.Section)
		}
		if req.Status != "" {
			q.Set("status", req.Status)
		}
	}

	var resp struct {
		Spaces []model.SpaceSnapshot `json:"spaces"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/spaces", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Spaces, nil
}

func (c *HTTPClient) GetSpace(ctx context.Context, id string) (*model.SpaceSnapshot, error) {
	var sp model.SpaceSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/v1/spaces/"+url.PathEscape(id), nil, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (c *HTTPClient) Stats(ctx context.Context, section string) (*model.Stats, error) {
	q := url.Values{}
	if section != "" {
		q.Set("section", section)
	}
	var st model.Stats
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/stats", q), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- History ---

func (c *HTTPClient) ListIntervals(ctx context.Context, req *ListIntervalsRequest) ([]*model.OccupancyInterval, error) {
	q := url.Values{}
	if req != nil {
		if req.SpaceID != "" {
			q.Set("space", req.SpaceID)
		}
		if req.OpenOnly {
			q.Set("open", "true")
		}
		if req.VehiclesOnly {
			q.Set("vehicles", "true")
		}
		if req.Since != nil {
			q.Set("since", req.Since.Format(time.RFC3339))
		}
		if req.Until != nil {
			q.Set("until", req.Until.Format(time.RFC3339))
		}
		if req.Limit > 0 {
			q.Set("limit", strconv.Itoa(req.Limit))
		}
	}

	var resp struct {
		Intervals []*model.OccupancyInterval `json:"intervals"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/intervals", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Intervals, nil
}

func (c *HTTPClient) GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error) {
	var iv model.OccupancyInterval
	if err := c.doJSON(ctx, http.MethodGet, "/v1/intervals/"+url.PathEscape(id), nil, &iv); err != nil {
		return nil, err
	}
	return &iv, nil
}

// PeakHours fetches the peak-hours report. from and to are inclusive
// YYYY-MM-DD dates; empty values use the server's default range.
func (c *HTTPClient) PeakHours(ctx context.Context, from, to string) (*PeakHoursReport, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	var report PeakHoursReport
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/reports/peak-hours", q), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// --- Health ---

// Health returns the server's liveness summary. A server whose zones are all
// stale answers 503 with a body; that body is returned along with the error.
func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &h)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && h.Status != "" {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded. On a 503 the body is
// still decoded into result when it parses.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusServiceUnavailable && result != nil {
			_ = json.Unmarshal(respBody, result)
		}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
