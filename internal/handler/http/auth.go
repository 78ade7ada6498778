package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/haitnmt/Haihv.Identities/internal/service"
	"github.com/haitnmt/Haihv.Identities/internal/token"
	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
	"github.com/haitnmt/Haihv.Identities/pkg/httputil"
	"github.com/haitnmt/Haihv.Identities/pkg/middleware"
	"github.com/haitnmt/Haihv.Identities/pkg/validator"
)

// AuthService is the slice of the orchestrator the handlers need.
type AuthService interface {
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Refresh(ctx context.Context, in service.RefreshInput) (*service.RefreshResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string, all bool)
	Verify(ctx context.Context, accessToken string) (*token.AccessClaims, error)
	CheckGroup(ctx context.Context, account, principalDN, groupName string, refresh bool) (bool, error)
}

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

// AuthHandler handles the gateway's HTTP endpoints.
type AuthHandler struct {
	service AuthService
	cookie  CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates the gateway HTTP handler.
func NewAuthHandler(svc AuthService, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie, logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Username   string `json:"username" validate:"required,min=1,max=256"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// RefreshRequest is the JSON request body for token refresh, used when
// the client cannot carry the cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// --- Response types ---

// LoginResponse carries the access token and the resolved principal.
// The refresh token travels only in the cookie.
type LoginResponse struct {
	User          any        `json:"user"`
	AccessToken   string     `json:"access_token"`
	RefreshExpiry *time.Time `json:"refresh_expiry,omitempty"`
}

// RefreshResponse carries the re-issued access token.
type RefreshResponse struct {
	AccessToken   string    `json:"access_token"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// GroupCheckResponse answers a membership query.
type GroupCheckResponse struct {
	Group    string `json:"group"`
	IsMember bool   `json:"is_member"`
}

// --- Handlers ---

// Login handles POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	ip := ClientIP(r)
	result, err := h.service.Login(r.Context(), service.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ClientIP:   ip,
		TrustedIP:  IsTrustedIP(ip),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	resp := LoginResponse{User: result.User, AccessToken: result.AccessToken}
	if result.RefreshToken != "" {
		h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)
		resp.RefreshExpiry = &result.RefreshExpiry
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resp})
}

// Refresh handles POST /api/refreshToken
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFrom(r)

	ip := ClientIP(r)
	result, err := h.service.Refresh(r.Context(), service.RefreshInput{
		RefreshToken: refreshToken,
		ClientIP:     ip,
		TrustedIP:    IsTrustedIP(ip),
	})
	if err != nil {
		h.clearRefreshCookie(w)
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: RefreshResponse{
		AccessToken:   result.AccessToken,
		RefreshExpiry: result.RefreshExpiry,
	}})
}

// Logout handles POST /api/logout. The optional all query parameter
// ends every session of the account. Whatever tokens the caller still
// holds are passed along as-is; revocation tolerates absent or expired
// ones, so logout never demands a live access token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	h.service.Logout(r.Context(), middleware.BearerToken(r), h.refreshTokenFrom(r), all)
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Verify handles GET /api/verify. The Auth middleware has already
// validated the token, so reaching here means the session is live.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"account":             middleware.AccountFromContext(r.Context()),
		"user_principal_name": middleware.PrincipalNameFromContext(r.Context()),
	}})
}

// CheckGroup handles GET /api/ldapGroup/check?groupName=...&clearCache=true
func (h *AuthHandler) CheckGroup(w http.ResponseWriter, r *http.Request) {
	groupName := r.URL.Query().Get("groupName")
	if groupName == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("missing groupName parameter"), h.logger)
		return
	}
	clearCache := r.URL.Query().Get("clearCache") == "true"

	ctx := r.Context()
	isMember, err := h.service.CheckGroup(ctx,
		middleware.AccountFromContext(ctx),
		middleware.DistinguishedNameFromContext(ctx),
		groupName,
		clearCache,
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: GroupCheckResponse{
		Group:    groupName,
		IsMember: isMember,
	}})
}

// --- Cookie handling ---

// refreshTokenFrom prefers the cookie and falls back to the JSON body.
func (h *AuthHandler) refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}
	var req RefreshRequest
	if r.Body != nil {
		r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req.RefreshToken
}

// setRefreshCookie scopes the refresh token to the API path. SameSite
// None lets browser clients on other origins refresh, which is why
// Secure is expected everywhere outside development.
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, value string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     h.cookie.Path,
		Expires:  expiry,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteNoneMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteNoneMode,
	})
}
