package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"herbalyze.org/internal/account"
	"herbalyze.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/",
}

var publicPrefixes = []string{
	"/v1/auth/",
	"/v1/herbals/",
	"/v1/doctor/",
}

// withAuth validates bearer tokens on the protected surface and stores the
// authenticated identity in the request context. The auth, doctor-request and
// catalogue endpoints stay public; the admin surface requires a token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		role, _ := account.ParseRole(claims.Role)
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates a handler on the authenticated role.
func requireRole(ctx context.Context, role account.Role) error {
	if !auth.HasRole(ctx, role) {
		return errors.New("forbidden")
	}
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
