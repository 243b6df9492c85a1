package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentforge/registry/pkg/models"
)

type contextKey string

// CallerKey is the context key for the caller's account identifier.
const CallerKey contextKey = "caller_account"

// CallerHeader carries the caller's account identifier on every mutating
// request, as 64 hex characters. The registry trusts its deployment
// boundary for authentication; the header states on whose behalf the
// operation runs, and the registry core enforces what that account may do.
const CallerHeader = "X-Caller-Account"

// CallerExtractor parses the caller identity header into the request
// context. Requests without the header proceed with a zero caller, which
// every privileged operation rejects.
func CallerExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := models.ZeroAccount
		if h := strings.TrimSpace(r.Header.Get(CallerHeader)); h != "" {
			parsed, err := models.ParseAccountID(h)
			if err != nil {
				http.Error(w, "invalid "+CallerHeader+" header", http.StatusBadRequest)
				return
			}
			caller = parsed
		}
		ctx := context.WithValue(r.Context(), CallerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller retrieves the caller account from the request context.
func GetCaller(ctx context.Context) models.AccountID {
	if v, ok := ctx.Value(CallerKey).(models.AccountID); ok {
		return v
	}
	return models.ZeroAccount
}

// CallerHex returns the caller as a hex string for log and trace fields.
func CallerHex(ctx context.Context) string {
	return GetCaller(ctx).String()
}
