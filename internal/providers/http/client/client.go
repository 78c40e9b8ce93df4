package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/laplace/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidRequest   = errors.New("invalid fetch request")
	ErrResponseTooLarge = errors.New("fetch response too large")
	ErrRateLimited      = errors.New("fetch rate limit exceeded")

	errUpstreamStatus = errors.New("upstream server error")
)

// Request is a lapp's outbound HTTP call
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Response is what the lapp gets back
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Config tunes the fetch client
type Config struct {
	Timeout          time.Duration
	MaxRetries       int
	RetryWaitMin     time.Duration
	RetryWaitMax     time.Duration
	MaxBodyBytes     int64
	RatePerSecond    float64
	FailureThreshold int
	Cooldown         time.Duration
	UserAgent        string
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		RetryWaitMin:     200 * time.Millisecond,
		RetryWaitMax:     2 * time.Second,
		MaxBodyBytes:     8 << 20,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		UserAgent:        "Laplace-Fetch/1.0",
	}
}

// Client performs outbound requests on behalf of lapps holding the network
// permission. Each upstream host gets its own circuit breaker.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	cfg     Config

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// NewClient creates a fetch client
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = cfg.RetryWaitMin
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil
	// Hand the last response back instead of an error once retries run out.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetDoNotParseResponse(true)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		cfg:      cfg,
		breakers: make(map[string]*resilience.Breaker),
	}
}

// Fetch performs req. 5xx responses are returned to the caller but count
// against the host's breaker.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	method, target, err := validate(req)
	if err != nil {
		return nil, err
	}

	if !c.limiter.Allow() {
		return nil, ErrRateLimited
	}

	var out *Response
	err = c.breaker(target.Host).Do(ctx, func(ctx context.Context) error {
		r := c.resty.R().SetContext(ctx).SetHeaders(req.Headers)
		if req.Body != "" {
			r.SetBody(req.Body)
		}

		resp, err := r.Execute(method, target.String())
		if err != nil {
			return fmt.Errorf("fetch %s %s: %w", method, target.Redacted(), err)
		}

		out, err = c.read(resp)
		if err != nil {
			return err
		}
		if out.Status >= http.StatusInternalServerError {
			return errUpstreamStatus
		}
		return nil
	})

	if errors.Is(err, errUpstreamStatus) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BreakerState reports the breaker for host, closed if it was never used
func (c *Client) BreakerState(host string) resilience.State {
	c.mu.Lock()
	b, ok := c.breakers[host]
	c.mu.Unlock()
	if !ok {
		return resilience.StateClosed
	}
	return b.State()
}

func (c *Client) breaker(host string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[host]
	if !ok {
		b = resilience.New("fetch:"+host, resilience.Settings{
			FailureThreshold: c.cfg.FailureThreshold,
			Cooldown:         c.cfg.Cooldown,
			IsFailure: func(err error) bool {
				return !errors.Is(err, ErrResponseTooLarge) && !errors.Is(err, context.Canceled)
			},
		})
		c.breakers[host] = b
	}
	return b
}

func (c *Client) read(resp *resty.Response) (*Response, error) {
	body := resp.RawBody()
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch read body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, ErrResponseTooLarge
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &Response{
		Status:  resp.StatusCode(),
		Headers: headers,
		Body:    string(data),
	}, nil
}

func validate(req Request) (string, *url.URL, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return "", nil, fmt.Errorf("%w: method %q", ErrInvalidRequest, req.Method)
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", nil, fmt.Errorf("%w: scheme %q", ErrInvalidRequest, target.Scheme)
	}
	if target.Host == "" {
		return "", nil, fmt.Errorf("%w: missing host", ErrInvalidRequest)
	}
	return method, target, nil
}
