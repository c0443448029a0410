// Package providers holds the HTTP plumbing shared by the payment gateway clients.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 15 * time.Second
	maxErrorBody    = 4096
	headerAuth      = "Authorization"
	headerAccept    = "Accept"
	mimeJSON        = "application/json"
	bearerPrefix    = "Bearer "
	errorKeyMessage = "message"
)

var ErrMissingCredentials = errors.New("missing provider credentials")

// APIError is a non-2xx answer from a gateway.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("%s api status %d: %s", apiError.Provider, apiError.StatusCode, apiError.Message)
}

// Transport issues authenticated requests against one gateway base URL.
type Transport struct {
	Provider   string
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewTransport validates the base URL and token and applies the timeout.
func NewTransport(provider string, baseURL string, token string, timeout time.Duration, httpClient *http.Client) (*Transport, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: %s token is empty", ErrMissingCredentials, provider)
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%s api base url is empty", provider)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Transport{
		Provider:   provider,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: httpClient,
	}, nil
}

// Do sends the request and decodes a JSON response into out when it is not nil.
func (transport *Transport) Do(ctx context.Context, method string, path string, body io.Reader, headers map[string]string, out any) error {
	request, err := http.NewRequestWithContext(ctx, method, transport.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s request: %w", transport.Provider, err)
	}
	request.Header.Set(headerAuth, bearerPrefix+transport.Token)
	request.Header.Set(headerAccept, mimeJSON)
	for name, value := range headers {
		if value != "" {
			request.Header.Set(name, value)
		}
	}
	response, err := transport.HTTPClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s call: %w", transport.Provider, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return &APIError{Provider: transport.Provider, StatusCode: response.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", transport.Provider, err)
	}
	return nil
}

// errorMessage digs a human message out of the usual gateway error envelopes.
func errorMessage(raw []byte) string {
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if message, ok := envelope[errorKeyMessage].(string); ok && message != "" {
			return message
		}
		if nested, ok := envelope["error"].(map[string]any); ok {
			if message, ok := nested[errorKeyMessage].(string); ok && message != "" {
				return message
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
