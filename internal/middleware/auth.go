package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

// SessionCookieName is the cookie that carries the session token.
const SessionCookieName = "stride_session"

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// RequireAuth accepts either an "Authorization: Bearer <jwt>" header or the
// session cookie, loads the user's current plan and populates AuthContext.
func RequireAuth(sessions *store.SessionStore, users *store.UserStore, tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ac auth.AuthContext

			if bearer, ok := bearerToken(r); ok {
				if tokens == nil {
					writeError(w, http.StatusUnauthorized, "unauthorized", "bearer tokens are not enabled")
					return
				}
				userID, err := tokens.Verify(bearer)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				ac.UserID = userID
			} else {
				cookie, err := r.Cookie(SessionCookieName)
				if err != nil || cookie.Value == "" {
					writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
					return
				}
				sess, err := sessions.GetByToken(cookie.Value)
				if err != nil || sess == nil {
					writeError(w, http.StatusUnauthorized, "unauthorized", "session expired")
					return
				}
				ac.UserID = sess.UserID
				ac.SessionID = sess.ID
			}

			user, err := users.GetByID(ac.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unknown user")
				return
			}
			ac.Plan = user.Plan

			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireFeature rejects callers whose plan does not include f.
func RequireFeature(f entitlement.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !entitlement.Resolve(auth.Plan(r.Context())).Has(f) {
				writeError(w, http.StatusForbidden, "feature_unavailable", string(f)+" is not included in your plan")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePlan rejects callers below the given tier.
func RequirePlan(min model.Plan) func(http.Handler) http.Handler {
	rank := func(p model.Plan) int {
		for i, candidate := range model.Plans {
			if candidate == p {
				return i
			}
		}
		return 0
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rank(auth.Plan(r.Context())) < rank(min) {
				writeError(w, http.StatusForbidden, "plan_required", string(min)+" plan required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
