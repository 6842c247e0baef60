package httpapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"worklane.org/internal/audit"
	"worklane.org/internal/auth"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        int64(time.Until(pair.AccessExpiresAt).Seconds()),
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC(),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "login and password are required")
		return
	}

	pair, principal, err := a.auth.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.ok", map[string]any{
		"user_id": principal.User.ID,
	})
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, principal, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh.ok", map[string]any{
		"user_id": principal.User.ID,
	})
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Logout is idempotent: an unknown or already-revoked token still
	// reports success so the response leaks nothing about token state.
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":     principal.User.Profile(),
		"permissions": sortedKeys(principal.Permissions),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "new_password is required")
		return
	}

	if err := a.auth.ChangePassword(r.Context(), principal.User.ID, req.OldPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password changed; all sessions revoked",
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     principal.User.ID,
		"permissions": sortedKeys(principal.Permissions),
	})
}

func sortedKeys(set auth.PermissionSet) []string {
	keys := make([]string, 0, len(set))
	for k, granted := range set {
		if granted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
