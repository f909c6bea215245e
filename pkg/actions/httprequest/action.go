// Package httprequest provides the http_request action: it calls an external
// HTTP endpoint and exposes the response to later steps.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/barkbase/automation/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var (
	// ErrHTTPMethodInvalid is returned when the HTTP method is invalid.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPRequestURLInvalid is returned when neither a valid url nor host is configured.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server answers with a 5xx status.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPClientError is returned when the server answers with a 4xx status.
	ErrHTTPClientError = errors.New("client error during HTTP request")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// Action performs a single HTTP request. Retries are left to the job queue.
type Action struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration

	client *http.Client
}

// NewAction creates an Action from rendered step configuration. Either url or
// host (with optional protocol and path) must be present.
func NewAction(config map[string]any) (*Action, error) {
	target, err := targetURL(config)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, protocol.Permanent(fmt.Errorf("%w: %s", ErrHTTPMethodInvalid, method))
	}

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			headers[k] = fmt.Sprintf("%v", v)
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &Action{
		Method:  method,
		URL:     target,
		Headers: headers,
		Body:    config["body"],
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func targetURL(config map[string]any) (string, error) {
	raw, _ := config["url"].(string)

	if raw == "" {
		host, _ := config["host"].(string)
		if host == "" {
			return "", ErrHTTPRequestURLInvalid
		}

		scheme, _ := config["protocol"].(string)
		if scheme == "" {
			scheme = "https"
		}

		path, _ := config["path"].(string)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		raw = scheme + "://" + host + path
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrHTTPRequestURLInvalid, raw)
	}

	return parsed.String(), nil
}

// Execute sends the request. Network failures and 5xx/429/408 answers are
// returned as retryable errors; any other 4xx is permanent.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	logger := input.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "http_request_action", "method", a.Method, "url", a.URL)

	req, err := a.buildRequest(ctx)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	output, err := processResponse(resp)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "http request completed", "status_code", resp.StatusCode)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return output, fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPServerError)
	case resp.StatusCode >= http.StatusBadRequest:
		return output, protocol.Permanent(fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPClientError))
	}

	return output, nil
}

func (a *Action) buildRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader

	switch b := a.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		body = bytes.NewReader(data)

		if _, ok := a.Headers["Content-Type"]; !ok {
			a.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func processResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	var body any
	if json.Unmarshal(raw, &body) != nil {
		body = string(raw)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}
