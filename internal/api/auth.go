package api

import (
	"net/http"

	"github.com/mattjoyce/relay/internal/auth"
)

const anonymous = "anonymous"

// authMiddleware resolves the bearer token to a principal. With no tokens
// configured every caller is anonymous.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Tokens) == 0 {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{Name: anonymous})))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relay"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relay"`)
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func identityOf(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.Name != "" {
		return p.Name
	}
	return anonymous
}
