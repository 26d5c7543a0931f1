package device

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

	synchandler "keepsake/internal/reconcile/handler"
	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

// Client talks to the central sync endpoints with one actor token.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewClient(endpoint, token string) *Client {
	return NewClientWithHTTPClient(endpoint, token, &http.Client{Timeout: 60 * time.Second})
}

func NewClientWithHTTPClient(endpoint, token string, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Push ships one batch. POST /v1/sync/{stream}
func (c *Client) Push(ctx context.Context, stream id.StreamID, batch *models.Batch) (*synchandler.OutcomeResponse, error) {
	body, err := json.Marshal(synchandler.NewBatchRequest(batch))
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	var out synchandler.OutcomeResponse
	if err := c.do(ctx, http.MethodPost, c.streamURL(stream), bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reads the central cursor. GET /v1/sync/{stream}
func (c *Client) Status(ctx context.Context, stream id.StreamID) (*synchandler.CursorResponse, error) {
	var out synchandler.CursorResponse
	if err := c.do(ctx, http.MethodGet, c.streamURL(stream), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) streamURL(stream id.StreamID) string {
	return c.endpoint + "/v1/sync/" + url.PathEscape(stream.String())
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remoteCodes maps the "error" field of a response body back to domain codes
// the sync loop branches on.
var remoteCodes = map[string]dErrors.Code{
	string(dErrors.CodeForkDetected):       dErrors.CodeForkDetected,
	string(dErrors.CodeChainViolation):     dErrors.CodeChainViolation,
	string(dErrors.CodeConsentNotActive):   dErrors.CodeConsentNotActive,
	string(dErrors.CodeResidencyViolation): dErrors.CodeResidencyViolation,
	"conflict":                             dErrors.CodeConflict,
	"not_found":                            dErrors.CodeNotFound,
	"unauthorized":                         dErrors.CodeUnauthorized,
	"forbidden":                            dErrors.CodeForbidden,
	"bad_request":                          dErrors.CodeBadRequest,
	"validation_error":                     dErrors.CodeValidation,
	"timeout":                              dErrors.CodeTimeout,
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck // best-effort error body
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &body) //nolint:errcheck // non-JSON bodies fall through to internal
	code, ok := remoteCodes[body.Error]
	if !ok {
		code = dErrors.CodeInternal
	}
	msg := body.Description
	if msg == "" {
		msg = fmt.Sprintf("sync endpoint returned %d", resp.StatusCode)
	}
	return dErrors.New(code, msg)
}
