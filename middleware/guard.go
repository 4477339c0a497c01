package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Verifier checks a bearer credential and returns the subject it belongs to.
type Verifier interface {
	VerifySubject(token string) (string, error)
}

// VerifierFunc adapts a function to [Verifier].
type VerifierFunc func(token string) (string, error)

// VerifySubject calls f.
func (f VerifierFunc) VerifySubject(token string) (string, error) {
	return f(token)
}

type subjectContextKey struct{}

// SubjectFromContext returns the subject stored by [RequireBearer].
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectContextKey{}).(string)
	return sub, ok
}

// RequireBearer rejects requests without a credential accepted by v with 401.
func RequireBearer(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sub, err := v.VerifySubject(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
