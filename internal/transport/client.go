// Package transport is the HTTP-calling layer of the pipeline: one attempt per call,
// a fixed timeout, optional circuit breaking, and fully buffered bodies so a request
// can be sent again after a refresh.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 20

// Config holds per-call transport settings.
type Config struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	Breaker         BreakerConfig
}

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled bool
	Name    string
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

var (
	// ErrCircuitOpen is returned without sending when the breaker rejects a call.
	ErrCircuitOpen = gobreaker.ErrOpenState
	// ErrTooManyProbes is returned when the half-open probe budget is spent.
	ErrTooManyProbes = gobreaker.ErrTooManyRequests

	errServerStatus = errors.New("server status")
)

// Client sends single attempts.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Response]
	logger     *zap.Logger
}

// New builds a Client. A nil rt uses a pooled transport tuned like the service
// clients in this codebase.
func New(cfg Config, rt http.RoundTripper, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rt == nil {
		maxConns := cfg.MaxConnsPerHost
		if maxConns <= 0 {
			maxConns = 100
		}
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   maxConns,
			MaxConnsPerHost:       maxConns,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}

	if cfg.Breaker.Enabled {
		bc := cfg.Breaker
		c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        bc.Name,
			MaxRequests: bc.MaxRequests,
			Interval:    bc.Interval,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < bc.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return c
}

// Do sends req once and buffers the response body. Non-2xx statuses are not errors.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	req = req.WithContext(ctx)
	if c.breaker == nil {
		return c.send(req)
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		resp, err := c.send(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	return resp, err
}

func (c *Client) send(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// State reports the breaker state; always closed when no breaker is configured.
func (c *Client) State() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// IsTimeout reports whether err is a deadline or net timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsUnavailable reports whether err came from the circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyProbes)
}
