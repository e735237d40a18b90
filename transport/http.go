// Package transport delivers signed key-release requests over HTTP. It is
// the only component that talks to key servers directly; everything above it
// consumes the interfaces.Transport capability.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// Client identification headers sent with every request.
const (
	ClientTypeHeader    = "Client-Sdk-Type"
	ClientVersionHeader = "Client-Sdk-Version"
	RequestIDHeader     = "X-Request-Id"

	clientType    = "go"
	clientVersion = "1.0.0"
)

// HTTPTransport implements interfaces.Transport over net/http. It performs
// no retries; retry policy belongs to the caller.
type HTTPTransport struct {
	Client *http.Client
}

// Default is a ready-to-use transport backed by http.DefaultClient.
var Default = &HTTPTransport{Client: http.DefaultClient}

// Post sends body to url with the given headers plus the client
// identification pair and a fresh correlation id. Any HTTP response,
// regardless of status, is returned as a PostResponse; only failures to
// obtain a response are errors.
func (t *HTTPTransport) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*interfaces.PostResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(ClientTypeHeader, clientType)
	req.Header.Set(ClientVersionHeader, clientVersion)
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response from %s: %w", url, err)
	}

	return &interfaces.PostResponse{Status: resp.StatusCode, Body: respBody}, nil
}
