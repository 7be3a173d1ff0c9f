package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrInvalidPayload marks a response body that is not the JSON the check
// endpoint promises, typically an HTML error page from a proxy.
var ErrInvalidPayload = errors.New("approval: invalid data from server")

// HTTPCheckClient polls the remote check endpoint.
type HTTPCheckClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCheckClient constructs a client for the given base URL.
func NewHTTPCheckClient(baseURL string) *HTTPCheckClient {
	return &HTTPCheckClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type checkPayload struct {
	Approved bool   `json:"approved"`
	ExpireAt *int64 `json:"expireAt"`
}

// CheckAccess issues one GET against /api/access/check.
func (c *HTTPCheckClient) CheckAccess(ctx context.Context, q CheckQuery) (CheckResult, error) {
	params := url.Values{}
	params.Set("feature", q.Feature)
	params.Set("id", q.FeatureID)
	params.Set("email", q.Email)

	endpoint := fmt.Sprintf("%s/api/access/check?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return CheckResult{}, fmt.Errorf("approval: check returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return CheckResult{}, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '<' {
		return CheckResult{}, ErrInvalidPayload
	}

	var payload checkPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return CheckResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result := CheckResult{Approved: payload.Approved}
	if payload.ExpireAt != nil {
		t := time.UnixMilli(*payload.ExpireAt)
		result.ExpiresAt = &t
	}
	return result, nil
}
