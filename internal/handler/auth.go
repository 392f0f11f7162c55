package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/textchamp/textchamp/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// csrfMiddleware implements a double-submit cookie: safe requests receive a
// csrf_token cookie if they lack one, and every other request must echo the
// cookie value in the X-CSRF-Token header.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(csrfCookieName)
		hasCookie := err == nil && cookie.Value != ""

		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			token := ""
			if hasCookie {
				token = cookie.Value
			} else {
				token, err = generateCSRFToken()
				if err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					respondError(w, r, http.StatusInternalServerError, "internal", "ErrInternal")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   h.config.SecureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := model.ContextWithCSRFToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if !hasCookie {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			respondError(w, r, http.StatusForbidden, "csrf", "ErrCSRF")
			return
		}
		headerToken := r.Header.Get(csrfHeaderName)
		if headerToken == "" {
			slog.Warn("CSRF header missing", "path", r.URL.Path)
			respondError(w, r, http.StatusForbidden, "csrf", "ErrCSRF")
			return
		}
		if len(headerToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			respondError(w, r, http.StatusForbidden, "csrf", "ErrCSRF")
			return
		}

		ctx := model.ContextWithCSRFToken(r.Context(), cookie.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}
		if authSess == nil {
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || user == nil || !user.Active {
			respondError(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				respondError(w, r, http.StatusUnauthorized, "unauthorized", "ErrUnauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, r, http.StatusForbidden, "forbidden", "ErrForbidden")
		})
	}
}

type signupRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	DisplayName string `json:"display_name" validate:"max=64"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// handleSignup registers a student account and logs it in.
func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, ok := h.createUser(w, r, req.Username, req.DisplayName, req.Password, model.UserRoleStudent)
	if !ok {
		return
	}
	if !h.startSession(w, r, user.ID) {
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.validate.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		loginAttempts.WithLabelValues("failure").Inc()
		respondError(w, r, http.StatusUnauthorized, "invalid_credentials", "ErrInvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		loginAttempts.WithLabelValues("failure").Inc()
		respondError(w, r, http.StatusUnauthorized, "invalid_credentials", "ErrInvalidCredentials")
		return
	}
	if !user.Active {
		loginAttempts.WithLabelValues("disabled").Inc()
		respondError(w, r, http.StatusForbidden, "account_disabled", "ErrAccountDisabled")
		return
	}
	loginAttempts.WithLabelValues("success").Inc()

	if !h.startSession(w, r, user.ID) {
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCSRFToken returns the token for front ends served from another origin,
// which cannot read the cookie themselves.
func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"csrf_token": model.CSRFTokenFromContext(r.Context())})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID int64) bool {
	token, err := h.store.CreateAuthSession(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	return true
}

// createUser hashes the password and stores a new active user. It writes the
// error response itself and reports whether the user was created.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, username, displayName, password string, role model.UserRole) (*model.User, bool) {
	existing, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if existing != nil {
		respondError(w, r, http.StatusConflict, "username_taken", "ErrUsernameTaken")
		return nil, false
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if displayName == "" {
		displayName = username
	}

	u := model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	created, err := h.store.GetUserByID(r.Context(), id)
	if err != nil || created == nil {
		u.ID = id
		return &u, true
	}
	return created, true
}
