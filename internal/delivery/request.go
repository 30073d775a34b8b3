package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/transform"
)

const (
	headerMessageID          = "X-Message-Id"
	headerSignature          = "X-Signature"
	headerSignatureTimestamp = "X-Signature-Timestamp"
)

// Request is one fully resolved outbound call. It captures everything
// the HTTP layer needs plus the snapshot persisted on the execution log.
type Request struct {
	Method    string
	URL       string
	Headers   models.Headers
	RawBody   []byte
	Timestamp time.Time
}

// BuildRequest resolves the integration config and transform output into
// a concrete request. Action outputs override URL and method.
func BuildRequest(integration *models.Integration, output *transform.Output, traceID string, now time.Time) (*Request, error) {
	rawBody, err := json.Marshal(output.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := integration.URL
	if output.URL != "" {
		url = output.URL
	}
	method := integration.HTTPMethod()
	if output.Method != "" {
		method = output.Method
	}

	headers := models.Headers{
		"Content-Type":  "application/json",
		headerMessageID: traceID,
	}
	for key, value := range integration.Auth.Headers {
		headers[key] = value
	}
	if integration.Auth.BearerToken != "" {
		headers["Authorization"] = "Bearer " + integration.Auth.BearerToken
	}

	if integration.SigningEnabled && integration.SigningSecret != "" {
		sm := NewSignatureManager([]SigningSecret{{Key: integration.SigningSecret, CreatedAt: integration.CreatedAt}})
		headers[headerSignatureTimestamp] = fmt.Sprintf("%d", now.Unix())
		headers[headerSignature] = sm.GenerateSignatureHeader(now, rawBody)
	}

	return &Request{
		Method:    method,
		URL:       url,
		Headers:   headers,
		RawBody:   rawBody,
		Timestamp: now,
	}, nil
}

func (r *Request) ToHTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewBuffer(r.RawBody))
	if err != nil {
		return nil, err
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// Snapshot converts the request into the form persisted on execution
// logs for replay and debugging. Authorization values are redacted.
func (r *Request) Snapshot() *models.RequestSnapshot {
	headers := models.Headers{}
	for key, value := range r.Headers {
		if key == "Authorization" {
			headers[key] = "REDACTED"
			continue
		}
		headers[key] = value
	}
	return &models.RequestSnapshot{
		Method:  r.Method,
		URL:     r.URL,
		Headers: headers,
		Body:    string(r.RawBody),
	}
}
