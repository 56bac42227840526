package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/practice-booking/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "practice.admin_claims"

// AdminClaims are carried by operator tokens. An empty TenantID grants access
// to every tenant.
type AdminClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// AdminJWT guards operator endpoints with an HS256 bearer token. A token
// bound to a tenant may only address that tenant; when the request carries no
// tenant yet, the token's tenant is placed in context.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, http.StatusUnauthorized, "admin access is not configured")
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			var claims AdminClaims
			token, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := r.Context()
			if claims.TenantID != "" {
				orgID, ok := tenancy.OrgIDFromContext(ctx)
				switch {
				case !ok:
					ctx = tenancy.WithOrgID(ctx, claims.TenantID)
				case orgID != claims.TenantID:
					writeAuthError(w, http.StatusForbidden, "token is not valid for this tenant")
					return
				}
			}
			ctx = context.WithValue(ctx, adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns the verified operator claims, if any.
func AdminClaimsFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(AdminClaims)
	return claims, ok
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	code := "unauthorized"
	if status == http.StatusForbidden {
		code = "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
