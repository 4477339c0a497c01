package authpipe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// Identity is the identity provider's signed-in user.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// IdentityProvider issues bearer credentials for the signed-in identity.
type IdentityProvider interface {
	// CurrentIdentity returns the signed-in identity, or nil when nobody is signed in.
	CurrentIdentity(ctx context.Context) *Identity
	// IssueCredential returns a credential for id. forceRefresh bypasses any provider-side cache.
	IssueCredential(ctx context.Context, id *Identity, forceRefresh bool) (string, error)
}

// SignOuter is implemented by providers that hold their own session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// Navigator is the navigation surface the pipeline redirects on teardown.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// Request is one logical API call. Path is relative to the API base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewJSONRequest builds a request whose body is v encoded as JSON.
func NewJSONRequest(method, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, err
	}
	h := make(http.Header, 1)
	h.Set("Content-Type", "application/json")
	return Request{Method: method, Path: path, Header: h, Body: body}, nil
}

// Response is a fully buffered API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// AttemptID is the X-Request-ID sent with the attempt that produced this response.
	AttemptID string
	// Retried is true when the response came from the redispatch after a refresh.
	Retried bool
}

// DecodeJSON decodes the response body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// UserSnapshot is the backend user returned by sign-in.
type UserSnapshot struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	// Raw is the stored JSON, including fields not mapped above.
	Raw json.RawMessage `json:"-"`
}
