package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/middleware"
	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"

	"go.uber.org/zap"
)

// Context key type to avoid collisions.
type contextKey string

const (
	identityContextKey contextKey = "identity"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Token string
	User  *models.User
}

// IdentityFromContext returns the identity stored by AuthMiddleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// authenticate resolves the session cookie to an identity. The cookie must
// carry a valid signature and name a live session row; the user row, not the
// cookie claims, decides the role. Sessions past half their lifetime are
// renewed.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, err
	}
	claims, err := h.signer.Parse(cookie.Value)
	if err != nil {
		return nil, err
	}
	info, err := h.db.ValidateSessionWithInfo(r.Context(), claims.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if info.ExpiresAt.Sub(now) < h.sessionDuration/2 {
		if err := h.startSession(r.Context(), w, claims.ID, info.User, now.Add(h.sessionDuration), true); err != nil {
			h.logger.Warn("renew session", zap.Int64("user_id", info.User.ID), zap.Error(err))
		}
	}
	return &Identity{Token: claims.ID, User: info.User}, nil
}

// AuthMiddleware wraps handlers to require authentication.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.authenticate(w, r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				h.clearSessionCookie(w)
			}
			if !errors.Is(err, http.ErrNoCookie) && !errors.Is(err, auth.ErrInvalidSession) && !errors.Is(err, storage.ErrNotFound) {
				h.logger.Error("validate session", zap.Error(err))
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		middleware.SetUserID(r.Context(), id.User.ID)
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects authenticated callers without the admin role. It must run
// inside AuthMiddleware.
func (h *Handlers) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id == nil || !id.User.IsAdmin() {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// startSession stores (or renews) the session row and sets the signed cookie.
func (h *Handlers) startSession(ctx context.Context, w http.ResponseWriter, token string, user *models.User, expiresAt time.Time, renew bool) error {
	value, err := h.signer.Sign(token, user.Email, user.Role, expiresAt)
	if err != nil {
		return err
	}
	if renew {
		err = h.db.RenewSession(ctx, token, expiresAt)
	} else {
		err = h.db.CreateSession(ctx, token, user.ID, expiresAt)
	}
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func homePath(u *models.User) string {
	if u.IsAdmin() {
		return "/admin"
	}
	return "/dashboard"
}

// LoginViewModel holds data for the login page.
type LoginViewModel struct {
	Email string
	Error string
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if id, err := h.authenticate(w, r); err == nil {
		http.Redirect(w, r, homePath(id.User), http.StatusFound)
		return
	}
	h.render(w, r, "login.html", LoginViewModel{})
}

// Login handles the login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "login.html", LoginViewModel{Error: "Invalid form submission"})
		return
	}

	form := loginForm{
		Email:    models.NormalizeEmail(r.FormValue("email")),
		Password: r.FormValue("password"),
	}
	if err := h.validate.Struct(form); err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "login.html",
			LoginViewModel{Email: form.Email, Error: validationMessage(err)})
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), form.Email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("look up user", zap.Error(err))
		h.renderStatus(w, r, http.StatusInternalServerError, "login.html",
			LoginViewModel{Email: form.Email, Error: "An error occurred. Please try again."})
		return
	}
	if user == nil || !auth.CheckPassword(form.Password, user.PasswordHash) {
		h.renderStatus(w, r, http.StatusUnauthorized, "login.html",
			LoginViewModel{Email: form.Email, Error: "Invalid email or password"})
		return
	}

	expiresAt := time.Now().Add(h.sessionDuration)
	if err := h.startSession(r.Context(), w, auth.NewSessionToken(), user, expiresAt, false); err != nil {
		h.logger.Error("create session", zap.Int64("user_id", user.ID), zap.Error(err))
		h.renderStatus(w, r, http.StatusInternalServerError, "login.html",
			LoginViewModel{Email: form.Email, Error: "An error occurred. Please try again."})
		return
	}

	middleware.SetUserID(r.Context(), user.ID)
	h.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	http.Redirect(w, r, homePath(user), http.StatusFound)
}

// Logout deletes the server-side session and clears the cookie. Calling it
// without a session is harmless.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if claims, err := h.signer.Parse(cookie.Value); err == nil {
			if err := h.db.DeleteSession(r.Context(), claims.ID); err != nil {
				h.logger.Error("delete session", zap.Error(err))
			}
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}
