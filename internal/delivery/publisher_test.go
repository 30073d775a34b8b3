package delivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/transform"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

func buildTestRequest(t *testing.T, url string, opts ...func(*models.Integration)) *delivery.Request {
	t.Helper()
	opts = append([]func(*models.Integration){testutil.IntegrationFactory.WithURL(url)}, opts...)
	integration := testutil.IntegrationFactory.Any(opts...)
	event := testutil.EventFactory.Any()
	output, err := transform.Apply(&integration, &event, -1)
	require.NoError(t, err)
	req, err := delivery.BuildRequest(&integration, output, "trace_1", time.Now())
	require.NoError(t, err)
	return req
}

func TestPublisher_Success(t *testing.T) {
	t.Parallel()

	var received struct {
		headers http.Header
		body    map[string]interface{}
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.headers = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&received.body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	req := buildTestRequest(t, server.URL)
	result := delivery.NewPublisher().Deliver(context.Background(), req, 5*time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, `{"ok":true}`, result.Body)
	assert.Equal(t, "trace_1", received.headers.Get("X-Message-Id"))
	assert.Equal(t, "application/json", received.headers.Get("Content-Type"))
	assert.Equal(t, float64(555), received.body["patientRid"])
}

func TestPublisher_SignedRequest(t *testing.T) {
	t.Parallel()

	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req := buildTestRequest(t, server.URL, testutil.IntegrationFactory.WithSigning("whsec_test"))
	result := delivery.NewPublisher().Deliver(context.Background(), req, 5*time.Second)

	require.True(t, result.Success)
	assert.NotEmpty(t, headers.Get("X-Signature"))
	assert.NotEmpty(t, headers.Get("X-Signature-Timestamp"))
	assert.Contains(t, headers.Get("X-Signature"), "v0=")
}

func TestPublisher_AuthHeaders(t *testing.T) {
	t.Parallel()

	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	integration := testutil.IntegrationFactory.Any(testutil.IntegrationFactory.WithURL(server.URL))
	integration.Auth = models.AuthConfig{
		Headers:     models.Headers{"X-Api-Key": "key123"},
		BearerToken: "tok456",
	}
	event := testutil.EventFactory.Any()
	output, err := transform.Apply(&integration, &event, -1)
	require.NoError(t, err)
	req, err := delivery.BuildRequest(&integration, output, "trace_1", time.Now())
	require.NoError(t, err)

	result := delivery.NewPublisher().Deliver(context.Background(), req, 5*time.Second)
	require.True(t, result.Success)
	assert.Equal(t, "key123", headers.Get("X-Api-Key"))
	assert.Equal(t, "Bearer tok456", headers.Get("Authorization"))

	// Snapshot persisted on logs must not leak credentials.
	snapshot := req.Snapshot()
	assert.Equal(t, "REDACTED", snapshot.Headers["Authorization"])
	assert.Equal(t, "key123", snapshot.Headers["X-Api-Key"])
}

func TestPublisher_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		statusCode   int
		wantCategory models.ErrorCategory
	}{
		{"500 is infrastructure", http.StatusInternalServerError, models.CategoryInfrastructure},
		{"503 is infrastructure", http.StatusServiceUnavailable, models.CategoryInfrastructure},
		{"429 is infrastructure", http.StatusTooManyRequests, models.CategoryInfrastructure},
		{"408 is infrastructure", http.StatusRequestTimeout, models.CategoryInfrastructure},
		{"400 is client failure", http.StatusBadRequest, models.CategoryClient},
		{"404 is client failure", http.StatusNotFound, models.CategoryClient},
		{"422 is client failure", http.StatusUnprocessableEntity, models.CategoryClient},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer server.Close()

			req := buildTestRequest(t, server.URL)
			result := delivery.NewPublisher().Deliver(context.Background(), req, 5*time.Second)

			assert.False(t, result.Success)
			assert.Equal(t, tc.statusCode, result.StatusCode)
			assert.Equal(t, tc.wantCategory, result.Category)
		})
	}
}

func TestPublisher_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	req := buildTestRequest(t, server.URL)
	result := delivery.NewPublisher().Deliver(context.Background(), req, 100*time.Millisecond)

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Equal(t, models.CategoryInfrastructure, result.Category)
}

func TestPublisher_ConnectionRefused(t *testing.T) {
	t.Parallel()

	// Nothing listens here.
	req := buildTestRequest(t, "http://127.0.0.1:1")
	result := delivery.NewPublisher().Deliver(context.Background(), req, time.Second)

	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Equal(t, models.CategoryInfrastructure, result.Category)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.CategoryInfrastructure, delivery.ClassifyStatus(502))
	assert.Equal(t, models.CategoryClient, delivery.ClassifyStatus(401))
}
