package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ProviderHTTPError is a non-2xx answer from a provider API
type ProviderHTTPError struct {
	StatusCode int
	Body       string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("provider http status: %d, body: %s", e.StatusCode, e.Body)
}

// IsServerError reports a 5xx answer
func (e *ProviderHTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type jsonClient struct {
	client  *http.Client
	headers map[string]string
}

// do sends body as JSON and decodes a 2xx answer into out. Non-2xx answers
// return a *ProviderHTTPError carrying the (truncated) body.
func (c *jsonClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// providerRejection is the error body shape both provider APIs use on 4xx
type providerRejection struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// rejectionResult turns a 4xx answer into a not-accepted acknowledgement
func rejectionResult(herr *ProviderHTTPError) *SendResult {
	var rej providerRejection
	_ = json.Unmarshal([]byte(herr.Body), &rej)
	if rej.Code == "" {
		rej.Code = fmt.Sprintf("HTTP_%d", herr.StatusCode)
	}
	if rej.Description == "" {
		rej.Description = herr.Body
	}
	return &SendResult{Accepted: false, ResultCode: rej.Code, ResultMessage: rej.Description}
}
