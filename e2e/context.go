//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"keepsake/internal/device"
	jwttoken "keepsake/internal/jwt_token"
	id "keepsake/pkg/domain"
)

// TestContext holds state between the steps of one scenario.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	Tokens           *jwttoken.JWTService
	LastResponse     *http.Response
	LastResponseBody []byte

	Subject id.SubjectID
	Region  id.Region
	Token   string

	Replica    *device.Replica
	ReplicaDir string
	SyncResult device.SyncResult
	SyncErr    error
}

func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(env("BASE_URL", "http://localhost:8080"), "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Tokens: jwttoken.NewJWTService(
			env("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			env("JWT_ISSUER", "keepsake"),
			env("JWT_AUDIENCE", "keepsake-api"),
			time.Hour,
		),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Close releases the scenario's device replica.
func (tc *TestContext) Close() error {
	var err error
	if tc.Replica != nil {
		err = tc.Replica.Close()
		tc.Replica = nil
	}
	if tc.ReplicaDir != "" {
		_ = os.RemoveAll(tc.ReplicaDir)
		tc.ReplicaDir = ""
	}
	return err
}

func (tc *TestContext) authHeaders() map[string]string {
	if tc.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.Token}
}

func (tc *TestContext) POST(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.do(http.MethodPost, path, bytes.NewReader(data), tc.authHeaders())
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body io.Reader, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a top-level field from the JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

func (tc *TestContext) LastStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}
