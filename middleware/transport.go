package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/authpipe"
)

// Dispatcher is the part of [authpipe.Pipeline] the transport needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req authpipe.Request) (*authpipe.Response, error)
	BaseURL() *url.URL
}

// Transport routes requests under the dispatcher's base URL through Dispatch and
// everything else through Next.
type Transport struct {
	dispatcher Dispatcher
	base       *url.URL
	next       http.RoundTripper
}

// NewTransport returns a Transport. A nil next uses http.DefaultTransport.
func NewTransport(d Dispatcher, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{dispatcher: d, base: d.BaseURL(), next: next}
}

// RoundTrip returns error responses as responses, except auth failures and transport
// failures, which come back as the *authpipe.RequestError.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	rel, ok := t.relative(r.URL)
	if !ok {
		return t.next.RoundTrip(r)
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	header := r.Header.Clone()
	header.Del("Authorization")

	resp, err := t.dispatcher.Dispatch(r.Context(), authpipe.Request{
		Method: r.Method,
		Path:   rel,
		Query:  r.URL.Query(),
		Header: header,
		Body:   body,
	})
	if err != nil {
		var re *authpipe.RequestError
		if errors.As(err, &re) && re.Kind == authpipe.KindHTTP && re.Response != nil {
			return toHTTPResponse(r, re.Response), nil
		}
		return nil, err
	}
	return toHTTPResponse(r, resp), nil
}

func (t *Transport) relative(u *url.URL) (string, bool) {
	if !strings.EqualFold(u.Scheme, t.base.Scheme) || !strings.EqualFold(u.Host, t.base.Host) {
		return "", false
	}
	if !strings.HasPrefix(u.Path, t.base.Path) {
		return "", false
	}
	return strings.TrimPrefix(u.Path, t.base.Path), true
}

func toHTTPResponse(r *http.Request, resp *authpipe.Response) *http.Response {
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       r,
	}
}
