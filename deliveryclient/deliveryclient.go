// Package deliveryclient performs the synchronous outbound HTTP POST
// for a single webhook delivery attempt and classifies the result into
// the outcome taxonomy consumed by the retry policy.
package deliveryclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/complyflow/webhook-core/retrypolicy"
	"github.com/complyflow/webhook-core/webhook/signature"
)

// DefaultTimeout is the connect+total timeout for a delivery attempt
// (spec section 4.3).
const DefaultTimeout = 10 * time.Second

// Result carries everything about a completed (or refused) delivery
// attempt that the caller needs to update status and feed the retry
// policy.
type Result struct {
	Outcome      retrypolicy.Outcome
	StatusCode   int
	ResponseBody string
	Err          error
	Duration     time.Duration
}

// ErrInvalidURL is wrapped into Result.Err when URL validation fails.
var ErrInvalidURL = errors.New("invalid webhook url")

// URLPolicy configures the acceptance rules for destination URLs
// (spec section 6's "URL validation" clause).
type URLPolicy struct {
	AllowPrivateDestinations bool
	AllowList                *regexp.Regexp
}

// ValidateURL enforces: absolute http/https URL, non-empty host,
// loopback rejected unless explicitly allowed, optional allow-list
// regex match against the full URL.
func ValidateURL(rawURL string, policy URLPolicy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	if !policy.AllowPrivateDestinations && isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("%w: loopback destinations are not allowed", ErrInvalidURL)
	}

	if policy.AllowList != nil && !policy.AllowList.MatchString(rawURL) {
		return fmt.Errorf("%w: does not match allow-list", ErrInvalidURL)
	}

	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Request is everything needed to attempt one delivery.
type Request struct {
	URL           string
	Body          []byte
	CorrelationID string
	WebhookID     string
	Attempt       int
	Secret        *signature.Secret // nil disables X-Signature
}

// Client performs outbound webhook POSTs. It never follows redirects:
// a redirect response is treated as a non-2xx outcome rather than
// silently delivering to a different destination than the caller
// validated.
type Client struct {
	httpClient *http.Client
	urlPolicy  URLPolicy
}

// New builds a delivery client with the given timeout and URL policy.
// A zero timeout uses DefaultTimeout.
func New(timeout time.Duration, urlPolicy URLPolicy) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		urlPolicy: urlPolicy,
	}
}

// Deliver issues the POST for req and classifies the outcome. It never
// returns a Go error for a classifiable HTTP-layer failure: those are
// reported through Result so callers can feed the retry policy
// uniformly, per section 7's propagation policy ("all HTTP-family
// errors are captured, classified, and fed to the Retry Policy").
func (c *Client) Deliver(ctx context.Context, req Request) Result {
	start := time.Now()

	if err := ValidateURL(req.URL, c.urlPolicy); err != nil {
		return Result{Outcome: retrypolicy.InvalidURL, Err: err, Duration: time.Since(start)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{Outcome: retrypolicy.InvalidURL, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	httpReq.Header.Set("X-Webhook-Id", req.WebhookID)
	httpReq.Header.Set("X-Attempt", strconv.Itoa(req.Attempt))
	if req.Secret != nil {
		httpReq.Header.Set("X-Signature", signature.Sign(*req.Secret, req.Body))
	}

	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return Result{Outcome: classifyTransportError(err), Err: err, Duration: duration}
	}
	defer resp.Body.Close()

	body := readLimited(resp.Body, 8192)

	return Result{
		Outcome:      retrypolicy.ClassifyHTTPStatus(resp.StatusCode),
		StatusCode:   resp.StatusCode,
		ResponseBody: body,
		Duration:     duration,
	}
}

func classifyTransportError(err error) retrypolicy.Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retrypolicy.Timeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retrypolicy.Timeout
	}
	return retrypolicy.ConnectionError
}
