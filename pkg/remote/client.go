package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"landscraper/pkg/config"
	errs "landscraper/pkg/errors"
	"landscraper/pkg/logger"
	"landscraper/pkg/models"
	"landscraper/pkg/ratelimit"
	"landscraper/pkg/retry"
)

// Observer receives request telemetry
type Observer interface {
	RequestDone(endpoint string, status int, elapsed time.Duration)
	RequestRetried(endpoint string)
}

type nopObserver struct{}

func (nopObserver) RequestDone(string, int, time.Duration) {}
func (nopObserver) RequestRetried(string)                  {}

// Response is a successful upstream answer
type Response struct {
	Status int
	Body   []byte
}

// Client issues region queries with retries and pacing
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	endpoints  Endpoints
	retrier    *retry.Retrier
	limiter    ratelimit.Limiter
	observer   Observer
	logger     logger.Logger
}

// NewClient creates a client for the configured endpoints
func NewClient(cfg config.RemoteConfig, retryCfg config.RetryConfig, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	log = log.WithField("component", "remote")

	return &Client{
		// Timeouts are applied per endpoint through the request context
		httpClient: &http.Client{Transport: transport},
		headers: map[string]string{
			"User-Agent":       cfg.UserAgent,
			"Accept":           "*/*",
			"X-Requested-With": "XMLHttpRequest",
		},
		endpoints: NewEndpoints(cfg),
		retrier:   retry.NewRetrier(retry.FromConfig(retryCfg, log)),
		limiter:   limiter,
		observer:  nopObserver{},
		logger:    log,
	}
}

// SetObserver installs a telemetry observer
func (c *Client) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// Probe runs the minimal query for id
func (c *Client) Probe(ctx context.Context, id models.RegionID) (*Response, error) {
	return c.Fetch(ctx, c.endpoints.Probe, id)
}

// Download runs the full query for id
func (c *Client) Download(ctx context.Context, id models.RegionID) (*Response, error) {
	return c.Fetch(ctx, c.endpoints.Download, id)
}

// Fetch issues a GET for id against ep, retrying transient failures.
// Only a 200 answer is returned without error.
func (c *Client) Fetch(ctx context.Context, ep Endpoint, id models.RegionID) (*Response, error) {
	url := ep.URL(id)
	referer := c.endpoints.Referer(id)

	r := c.retrier.WithContext(ctx).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		c.observer.RequestRetried(ep.Name)
		logger.LogRetry(c.logger.WithField("region", id.Key()), url, attempt, delay, err)
	})

	var resp *Response
	err := r.Do(func() error {
		var attemptErr error
		resp, attemptErr = c.attempt(ctx, ep, url, referer)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs a single bounded request
func (c *Client) attempt(ctx context.Context, ep Endpoint, url, referer string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqCtx := ctx
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.doRequest(req, ep.Name)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request, endpoint string) (*http.Response, error) {
	for key, value := range c.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		c.observer.RequestDone(endpoint, 0, elapsed)
		// Cancellation of the parent context is not a transport failure
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.WithError(err).WarnWithFields("HTTP request failed", map[string]interface{}{
			"endpoint": endpoint,
			"url":      req.URL.String(),
			"duration": elapsed,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "network error")
	}

	c.observer.RequestDone(endpoint, resp.StatusCode, elapsed)
	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, elapsed)

	return resp, nil
}

// checkResponseStatus maps anything but 200 to a typed error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return errs.FromStatus(resp.StatusCode)
}
