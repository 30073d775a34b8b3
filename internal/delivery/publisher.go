package delivery

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// maxResponseBody caps how much of an endpoint's response is retained
// on the execution log.
const maxResponseBody = 4 * 1024

// Result is the classified outcome of one HTTP attempt.
type Result struct {
	Success    bool
	StatusCode int
	Body       string
	Category   models.ErrorCategory
	Err        error
	Duration   time.Duration
}

// Publisher performs the HTTP call for one delivery attempt.
type Publisher interface {
	Deliver(ctx context.Context, req *Request, timeout time.Duration) *Result
}

type httpPublisher struct {
	client *http.Client
}

var _ Publisher = (*httpPublisher)(nil)

func NewPublisher() Publisher {
	return &httpPublisher{client: &http.Client{}}
}

func (p *httpPublisher) Deliver(ctx context.Context, req *Request, timeout time.Duration) *Result {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := req.ToHTTPRequest(attemptCtx)
	if err != nil {
		return &Result{
			Category: models.CategoryClient,
			Err:      err,
			Duration: time.Since(start),
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &Result{
			Category: ClassifyTransportError(err),
			Err:      err,
			Duration: time.Since(start),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	result := &Result{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
		return result
	}
	result.Category = ClassifyStatus(resp.StatusCode)
	return result
}

// ClassifyStatus maps a non-2xx response to an error category.
// Timeouts (408), throttling (429), and server errors are endpoint
// infrastructure problems worth retrying; remaining 4xx mean the
// request itself is rejected and retrying cannot help.
func ClassifyStatus(statusCode int) models.ErrorCategory {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return models.CategoryInfrastructure
	default:
		return models.CategoryClient
	}
}

// ClassifyTransportError maps a transport-level failure. Timeouts and
// connection errors are infrastructure; anything else (bad URL scheme,
// malformed request) is a client failure.
func ClassifyTransportError(err error) models.ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return models.CategoryInfrastructure
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return models.CategoryInfrastructure
		}
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return models.CategoryInfrastructure
		}
		return models.CategoryClient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.CategoryInfrastructure
	}
	return models.CategoryClient
}
