package handler

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/stride/internal/auth"
	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/middleware"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

const minPasswordLen = 8

// dummyHash keeps login timing the same for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("stride-dummy-password"), bcrypt.DefaultCost)

type AuthHandler struct {
	users        *store.UserStore
	sessions     *store.SessionStore
	tokens       *auth.TokenIssuer
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, tokens *auth.TokenIssuer, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:        us,
		sessions:     ss,
		tokens:       tokens,
		secureCookie: secureCookie,
		logger:       logger.With("component", "auth"),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionResponse struct {
	User           *model.User              `json:"user"`
	Entitlements   entitlement.Entitlements `json:"entitlements"`
	Token          string                   `json:"token,omitempty"`
	TokenExpiresAt *time.Time               `json:"token_expires_at,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "invalid_input", "password must be at least 8 characters")
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	user, err := h.users.Create(req.Email, strings.TrimSpace(req.Name), string(hash))
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	h.startSession(w, user, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	hash := string(dummyHash)
	if user != nil {
		if hash, err = h.users.GetPasswordHash(user.ID); err != nil {
			h.logger.Error("load password hash", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	h.startSession(w, user, http.StatusOK)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *model.User, status int) {
	sess, err := h.sessions.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	resp := sessionResponse{User: user, Entitlements: entitlement.Resolve(user.Plan)}
	if h.tokens != nil {
		token, exp, err := h.tokens.Issue(user.ID)
		if err != nil {
			h.logger.Error("issue token", "error", err)
		} else {
			resp.Token = token
			resp.TokenExpiresAt = &exp
		}
	}
	writeJSON(w, status, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.SessionID != 0 {
		if err := h.sessions.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller and what their plan grants.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Entitlements: entitlement.Resolve(user.Plan)})
}

func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.users.UpdateName(auth.UserID(r.Context()), strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Error("update user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword replaces the caller's password and signs out their other
// sessions.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.New) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "invalid_input", "password must be at least 8 characters")
		return
	}

	userID := auth.UserID(r.Context())
	hash, err := h.users.GetPasswordHash(userID)
	if err != nil {
		h.logger.Error("load password hash", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Current)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "current password is wrong")
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.New), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := h.users.SetPasswordHash(userID, string(newHash)); err != nil {
		h.logger.Error("set password hash", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if err := h.sessions.DeleteByUserID(userID); err != nil {
		h.logger.Error("revoke sessions", "error", err)
	}

	user, err := h.users.GetByID(userID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	h.startSession(w, user, http.StatusOK)
}

func (h *AuthHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entitlement.Resolve(auth.Plan(r.Context())))
}
