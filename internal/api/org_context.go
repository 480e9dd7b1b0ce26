package api

import (
	"context"
	"net/http"
	"strings"
)

// OrgContextKey is the key for storing the organisation id in a request context.
type OrgContextKey struct{}

// OrgHeader names the organisation whose settings a request uses.
const OrgHeader = "X-Org-ID"

// orgContext resolves the organisation for each request and stores it in the
// context. Priority: X-Org-ID header, then the org query parameter, then the
// configured default.
func orgContext(defaultOrgID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := strings.TrimSpace(r.Header.Get(OrgHeader))
			if orgID == "" {
				orgID = strings.TrimSpace(r.URL.Query().Get("org"))
			}
			if orgID == "" {
				orgID = defaultOrgID
			}
			next.ServeHTTP(w, r.WithContext(WithOrgID(r.Context(), orgID)))
		})
	}
}

// WithOrgID returns a copy of ctx carrying orgID.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// OrgIDFromContext returns the organisation stored by the org middleware.
func OrgIDFromContext(ctx context.Context) string {
	orgID, _ := ctx.Value(OrgContextKey{}).(string)
	return orgID
}
