// Package fetch provides the HTTP client used against the procurement registry:
// bounded retries on transient statuses, identifying headers and JSON decoding.
package fetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the default per-request timeout applied by callers.
const DefaultTimeout = 20 * time.Second

// DefaultUserAgent is the user agent string for registry requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; TenderMonitor/1.0)"

// DefaultRetryMax is the number of retries after the first attempt.
const DefaultRetryMax = 3

// retryableStatuses are the only HTTP statuses that trigger a transport retry.
var retryableStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Error represents an error during a registry request.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// IsTransient reports whether err came from the transport or from a status that
// a later attempt could plausibly clear.
func IsTransient(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Options configures the client.
type Options struct {
	UserAgent string
	Headers   map[string]string

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond caps the request rate across all goroutines sharing the client. 0 disables.
	RequestsPerSecond float64

	// InsecureSkipVerify disables TLS certificate verification. The registry's
	// chain is not reliably verifiable; this is a known risk.
	InsecureSkipVerify bool

	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults for registry requests.
func DefaultOptions() *Options {
	return &Options{
		UserAgent:          DefaultUserAgent,
		RetryMax:           DefaultRetryMax,
		RetryWaitMin:       1 * time.Second,
		RetryWaitMax:       30 * time.Second,
		InsecureSkipVerify: true,
	}
}

// NewClient builds an *http.Client that retries 429/500/502/503/504 and
// transport errors with exponential backoff. When retries run out the last
// response is returned as-is so callers can inspect its status.
func NewClient(opts *Options) *http.Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // see Options.InsecureSkipVerify

	headers := map[string]string{
		"User-Agent": opts.UserAgent,
		"Accept":     "application/json",
	}
	if headers["User-Agent"] == "" {
		headers["User-Agent"] = DefaultUserAgent
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	var rt http.RoundTripper = &headerTransport{base: base, headers: headers}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rt = &limitedTransport{base: rt, limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: rt}
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// The library logs to stderr by default; stay quiet unless given a logger.
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}

	return rc.StandardClient()
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	_, retry := retryableStatuses[resp.StatusCode]
	return retry, nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// GetJSON issues a GET bounded by timeout and decodes a 200 body into out.
// A 204 response leaves out untouched and returns nil. Every other status is an *Error.
func GetJSON(ctx context.Context, client *http.Client, urlStr string, timeout time.Duration, out any) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{URL: urlStr, Message: "HTTP request failed", Cause: err, Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		_, retry := retryableStatuses[resp.StatusCode]
		return &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
			Retryable:  retry,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{URL: urlStr, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err, Retryable: true}
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{URL: urlStr, StatusCode: resp.StatusCode, Message: "failed to decode JSON", Cause: err}
	}
	return nil
}
