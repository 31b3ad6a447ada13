package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"cuentas/internal/log"
)

// Middleware authenticates bearer tokens and enforces the role policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *log.Logger
}

func NewMiddleware(secret []byte, policy Policy, logger *log.Logger) *Middleware {
	if logger == nil {
		logger = log.Discard()
	}
	return &Middleware{secret: secret, policy: policy, logger: logger.WithComponent(log.ComponentAuth)}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := ParseJWT(token, m.secret)
		if err != nil {
			m.logger.WarnContext(r.Context(), "token rejected",
				log.FieldPath, r.URL.Path, log.FieldError, err.Error())
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		role, _ := NormalizeRole(claims.Role)
		if !role.Allows(m.policy.RequiredRole(r)) {
			m.logger.WarnContext(r.Context(), "role not allowed",
				log.FieldPath, r.URL.Path,
				log.FieldMethod, r.Method,
				log.FieldCompanyID, claims.TenantID,
				"role", string(role))
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := WithIdentity(r.Context(), claims.TenantID, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
