package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amirphl/conversion-relay/models"
)

const maxResponseBody = 64 << 10

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends payload and returns the response; non-2xx answers become a PlatformError
func postJSON(ctx context.Context, client *http.Client, platform models.Platform, url string, headers map[string]string, payload any) (*SendResult, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode payload: %w", platform, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &PlatformError{Platform: platform, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result := &SendResult{StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &PlatformError{Platform: platform, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return result, nil
}
