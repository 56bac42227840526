package router

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/wolfman30/practice-booking/internal/tenancy"
)

const orgHeader = "X-Org-Id"

var orgIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// requireOrgID scopes the request to the tenant named in X-Org-Id.
func requireOrgID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(orgHeader))
		if orgID == "" {
			writeError(w, http.StatusBadRequest, "missing "+orgHeader)
			return
		}
		if !orgIDPattern.MatchString(orgID) {
			writeError(w, http.StatusBadRequest, "malformed "+orgHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithOrgID(r.Context(), orgID)))
	})
}

// optionalOrgID sets the tenant when the header is present. Admin routes use
// it so a tenant-bound token can fill the tenant in.
func optionalOrgID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(orgHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}
		requireOrgID(next).ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "validation_error", "message": message})
}
