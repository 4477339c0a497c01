package authpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authpipe/internal/flows"
	"github.com/MrEthical07/authpipe/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
)

func (p *Pipeline) newDispatchDeps() flows.DispatchDeps {
	return flows.DispatchDeps{
		IsExempt:       p.isExempt,
		OnLoginSurface: p.onLoginSurface,
		ValidToken: func(ctx context.Context) (string, bool) {
			tok, ok := p.GetValidToken(ctx)
			if !ok || tok.IsZero() {
				return "", false
			}
			return tok.Raw, true
		},
		Refresh: func(ctx context.Context, reason flows.RefreshReason) (string, error) {
			id := p.provider.CurrentIdentity(ctx)
			if id == nil {
				return "", ErrNoIdentity
			}
			p.logger.Debug("refreshing before redispatch",
				zap.String("uid", id.UID),
				zap.Stringer("reason", reason),
			)
			tok, err := p.RefreshToken(ctx, id)
			if err != nil {
				return "", err
			}
			return tok.Raw, nil
		},
		IsTimeout:         transport.IsTimeout,
		IsUnavailable:     transport.IsUnavailable,
		ForbiddenTeardown: p.cfg.API.ForbiddenPolicy == ForbiddenTeardown,
		RefreshOnTimeout:  p.cfg.API.RefreshOnTimeout,
	}
}

// Dispatch sends req to the API with a bearer credential. A 401 is retried once
// after a refresh; irrecoverable auth failures tear the session down. Every failure
// is a *[RequestError].
func (p *Pipeline) Dispatch(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := normalizePath(req.Path)

	if p.closed.Load() {
		return nil, &RequestError{Kind: KindNetwork, Method: method, Path: path, Err: ErrPipelineClosed}
	}

	target, err := p.resolve(req.Path, req.Query)
	if err != nil {
		return nil, &RequestError{
			Kind:   KindNetwork,
			Method: method,
			Path:   path,
			Err:    fmt.Errorf("%w: %v", ErrInvalidRequest, err),
		}
	}

	ctx, span := p.tracer.Start(ctx, "authpipe.Dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("authpipe.path", path),
		),
	)
	defer span.End()

	var last *transport.Response
	deps := p.dispatchDeps
	deps.NewAttemptID = func() string {
		if id, ok := RequestIDFromContext(ctx); ok {
			return id
		}
		return p.newID()
	}
	deps.Send = func(ctx context.Context, token, attemptID string) (int, error) {
		httpReq, err := p.newHTTPRequest(ctx, method, target, req, token, attemptID)
		if err != nil {
			return 0, err
		}
		resp, err := p.client.Do(ctx, httpReq)
		if err != nil {
			return 0, err
		}
		last = resp
		return resp.StatusCode, nil
	}

	start := time.Now()
	res := flows.RunDispatch(ctx, path, deps)
	p.metrics.Observe(MetricDispatchLatency, time.Since(start))

	span.SetAttributes(
		attribute.String("authpipe.attempt_id", res.AttemptID),
		attribute.Int("authpipe.attempts", res.Attempts),
		attribute.Bool("authpipe.retried", res.Retried),
	)
	if res.Status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	}
	if res.Retried {
		p.metrics.Inc(MetricDispatchRetried)
		p.logger.Debug("request redispatched after refresh",
			zap.String("attempt_id", res.AttemptID),
			zap.String("path", path),
		)
	}

	var resp *Response
	if last != nil {
		resp = &Response{
			StatusCode: last.StatusCode,
			Header:     last.Header,
			Body:       last.Body,
			AttemptID:  res.AttemptID,
			Retried:    res.Retried,
		}
	}

	if res.Outcome == flows.DispatchDone {
		p.metrics.Inc(MetricDispatchSuccess)
		if !p.teardownPending.Load() {
			p.handlingAuthError.Store(false)
		}
		return resp, nil
	}

	reqErr := p.requestError(ctx, method, path, res, resp)
	span.RecordError(reqErr)
	span.SetStatus(codes.Error, reqErr.Kind.String())
	span.SetAttributes(attribute.String("authpipe.error_kind", reqErr.Kind.String()))

	if res.Outcome == flows.DispatchTeardown && reqErr.Kind != KindTimeout && reqErr.Kind != KindNetwork {
		p.teardown(ctx, reqErr.Kind.String(), res.AttemptID)
	}
	return nil, reqErr
}

func (p *Pipeline) requestError(ctx context.Context, method, path string, res flows.DispatchResult, resp *Response) *RequestError {
	e := &RequestError{
		Method:    method,
		Path:      path,
		Status:    res.Status,
		AttemptID: res.AttemptID,
	}

	switch res.Failure {
	case flows.DispatchFailureNoCredential:
		p.metrics.Inc(MetricDispatchNoCredential)
		e.Kind = KindAuthExpired
		e.Err = errors.Join(ErrNoCredential, ErrSessionTerminated)
	case flows.DispatchFailureUnauthorized:
		p.metrics.Inc(MetricDispatchUnauthorized)
		e.Kind = KindAuthExpired
		e.Response = resp
		e.Err = ErrSessionTerminated
	case flows.DispatchFailureRefresh:
		// The caller gave up while the refresh was pending; the session is not at fault.
		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(cerr, context.DeadlineExceeded) {
				p.metrics.Inc(MetricDispatchTimeout)
				e.Kind = KindTimeout
				e.Err = errors.Join(ErrRequestTimeout, cerr)
			} else {
				p.metrics.Inc(MetricDispatchNetworkError)
				e.Kind = KindNetwork
				e.Err = cerr
			}
			return e
		}
		p.metrics.Inc(MetricDispatchUnauthorized)
		e.Kind = KindAuthExpired
		e.Response = resp
		e.Err = errors.Join(ErrSessionTerminated, res.Err)
	case flows.DispatchFailureForbidden:
		p.metrics.Inc(MetricDispatchForbidden)
		e.Kind = KindAuthDenied
		e.Response = resp
		if res.Outcome == flows.DispatchTeardown {
			e.Err = errors.Join(ErrForbidden, ErrSessionTerminated)
		} else {
			e.Err = ErrForbidden
		}
	case flows.DispatchFailureStatus:
		p.metrics.Inc(MetricDispatchHTTPError)
		e.Kind = KindHTTP
		e.Response = resp
		e.Err = ErrUnexpectedStatus
	case flows.DispatchFailureTimeout:
		p.metrics.Inc(MetricDispatchTimeout)
		e.Kind = KindTimeout
		e.Err = errors.Join(ErrRequestTimeout, res.Err)
	case flows.DispatchFailureUnavailable:
		p.metrics.Inc(MetricDispatchUnavailable)
		e.Kind = KindUnavailable
		e.Err = errors.Join(ErrServiceUnavailable, res.Err)
	default:
		p.metrics.Inc(MetricDispatchNetworkError)
		e.Kind = KindNetwork
		e.Err = res.Err
	}
	return e
}

func (p *Pipeline) resolve(path string, query url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", errors.New("path must be relative to the API base URL")
	}
	if len(query) > 0 {
		q := ref.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		ref.RawQuery = q.Encode()
	}
	return p.baseURL.ResolveReference(ref).String(), nil
}

func (p *Pipeline) newHTTPRequest(ctx context.Context, method, target string, req Request, token, attemptID string) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.API.UserAgent != "" {
		httpReq.Header.Set("User-Agent", p.cfg.API.UserAgent)
	}
	httpReq.Header.Set(headerRequestID, attemptID)
	httpReq.Header.Del(headerAuthorization)
	if token != "" {
		httpReq.Header.Set(headerAuthorization, "Bearer "+token)
	}
	return httpReq, nil
}
