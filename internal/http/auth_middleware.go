package http

import (
	"errors"
	"net/http"

	"ledger/internal/log"
	"ledger/internal/session"
)

// loadSession resolves the session cookie into a principal on the request
// context. Requests without a usable session pass through anonymous and the
// stale cookie is cleared.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(session.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := s.sessions.Resolve(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidSession) && !errors.Is(err, session.ErrExpiredSession) {
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to resolve session",
					log.FieldError, err,
					log.FieldOperation, log.OpRead,
					"error_type", log.ErrorTypeDatabase)
			}
			s.sessions.ClearCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx := session.WithPrincipal(r.Context(), p, cookie.Value)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUser, p.Email))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth sends anonymous visitors to the login page. htmx requests get
// an HX-Redirect so the whole page navigates instead of swapping a fragment.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			if isHTMX(r) {
				NewHTMXResponse().Redirect("/login").Write(w)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// redirectIfAuthenticated keeps logged-in users off the auth pages.
func redirectIfAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); ok && r.Method == http.MethodGet {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal is only called behind requireAuth.
func principal(r *http.Request) session.Principal {
	p, _ := session.FromContext(r.Context())
	return p
}
