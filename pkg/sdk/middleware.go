package sdk

import (
	"context"
	"net/http"
)

type contextKey string

const flagsKey contextKey = "flagDecisions"

// ContextFunc builds the evaluation context for a request. The default uses
// the X-User-ID header as userId.
type ContextFunc func(r *http.Request) Context

func defaultContext(r *http.Request) Context {
	ec := Context{}
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		ec["userId"] = userID
	}
	return ec
}

// Middleware evaluates a fixed set of flags per request and stores the
// decisions in the request context, so handlers branch without another round
// trip. Evaluation failures degrade to an empty decision set; the wrapped
// handler always runs.
func (c *Client) Middleware(keys []string, buildContext ContextFunc) func(http.Handler) http.Handler {
	if buildContext == nil {
		buildContext = defaultContext
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decisions := map[string]*Result{}
			if batch, err := c.BatchEvaluate(r.Context(), keys, buildContext(r)); err == nil {
				decisions = batch.Results
			}
			ctx := context.WithValue(r.Context(), flagsKey, decisions)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FlagFromContext reads a decision stored by Middleware. The fallback applies
// when the middleware did not run, evaluation failed, or the flag is unknown.
func FlagFromContext(ctx context.Context, key string, fallback bool) bool {
	decisions, ok := ctx.Value(flagsKey).(map[string]*Result)
	if !ok {
		return fallback
	}
	return decisions[key].Enabled(fallback)
}
