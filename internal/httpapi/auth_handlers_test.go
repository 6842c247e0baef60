package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"worklane.org/internal/auth"
)

// fakeStore is a minimal in-memory auth.Store for exercising the HTTP
// surface end to end.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	sets   map[string][]auth.PermissionSet
	tokens map[string]*auth.RefreshToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*auth.User),
		sets:   make(map[string][]auth.PermissionSet),
		tokens: make(map[string]*auth.RefreshToken),
	}
}

func (f *fakeStore) FindUser(ctx context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) FindUserByLogin(ctx context.Context, login string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, login) || strings.EqualFold(u.Username, login) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) TouchLastLogin(ctx context.Context, userID string) error { return nil }

func (f *fakeStore) RolesFor(ctx context.Context, userID string) ([]auth.Role, error) {
	return nil, nil
}

func (f *fakeStore) PermissionSetsFor(ctx context.Context, userID string) ([]auth.PermissionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[userID], nil
}

func (f *fakeStore) CreateToken(ctx context.Context, tok *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *tok
	f.tokens[tok.TokenHash] = &cp
	return nil
}

func (f *fakeStore) ConsumeToken(ctx context.Context, tokenHash string, replacement *auth.RefreshToken) (*auth.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tokens[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if rec.Revoked {
		cp := *rec
		return &cp, auth.ErrRefreshReused
	}
	if !rec.ExpiresAt.After(time.Now()) {
		return nil, auth.ErrNotFound
	}
	rec.Revoked = true
	replacement.UserID = rec.UserID
	cp := *replacement
	f.tokens[replacement.TokenHash] = &cp
	consumed := *rec
	return &consumed, nil
}

func (f *fakeStore) RevokeToken(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.tokens[tokenHash]; ok {
		rec.Revoked = true
	}
	return nil
}

func (f *fakeStore) RevokeAllForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.tokens {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	return nil
}

func (f *fakeStore) DeleteExpiredTokens(ctx context.Context) (int64, error) { return 0, nil }

func newTestAPI(t *testing.T) (*API, http.Handler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := auth.NewService(store, []byte("test-signing-key"), auth.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	hash, err := svc.Hasher().Hash("admin123")
	if err != nil {
		t.Fatalf("hash seed password: %v", err)
	}
	store.users["u-1"] = &auth.User{
		ID:           "u-1",
		Email:        "admin@worklane.test",
		Username:     "admin",
		PasswordHash: hash,
		FirstName:    "Ada",
		LastName:     "Ng",
		Active:       true,
	}
	store.sets["u-1"] = []auth.PermissionSet{{
		auth.PermApproveTimesheet: true,
		auth.PermViewReports:      true,
	}}

	api := New(svc, ReadyProbe{}, "test", Options{RateBurst: 100, RatePerSec: 100})
	return api, api.Handler(), store
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func loginAs(t *testing.T, handler http.Handler, login, password string) tokenResponse {
	t.Helper()
	rr := postJSON(t, handler, "/v1/auth/login", map[string]string{
		"login":    login,
		"password": password,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	_, handler, _ := newTestAPI(t)

	resp := loginAs(t, handler, "admin", "admin123")
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
	if resp.TokenType != "bearer" {
		t.Fatalf("unexpected token type: %q", resp.TokenType)
	}
	if resp.ExpiresIn < 1700 || resp.ExpiresIn > 1800 {
		t.Fatalf("unexpected expires_in: %d", resp.ExpiresIn)
	}
	if time.Until(resp.RefreshExpiresAt) < 6*24*time.Hour {
		t.Fatalf("unexpected refresh expiry: %v", resp.RefreshExpiresAt)
	}
}

func TestLoginEndpointGenericDenial(t *testing.T) {
	_, handler, _ := newTestAPI(t)

	for _, body := range []map[string]string{
		{"login": "admin", "password": "wrong"},
		{"login": "nobody", "password": "admin123"},
	} {
		rr := postJSON(t, handler, "/v1/auth/login", body, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if resp["error"] != "invalid credentials" {
			t.Fatalf("expected generic denial, got %v", resp["error"])
		}
	}
}

func TestLoginEndpointValidation(t *testing.T) {
	_, handler, _ := newTestAPI(t)

	rr := postJSON(t, handler, "/v1/auth/login", map[string]string{"login": "admin"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader([]byte(`{"login": "a", "extra": true}`)))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", rr.Header().Get("Allow"))
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	first := loginAs(t, handler, "admin", "admin123")

	rr := postJSON(t, handler, "/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var next tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &next); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if next.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The consumed token is dead; replaying it is denied.
	rr = postJSON(t, handler, "/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", rr.Code)
	}
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	resp := loginAs(t, handler, "admin", "admin123")

	for i := 0; i < 2; i++ {
		rr := postJSON(t, handler, "/v1/auth/logout", map[string]string{"refresh_token": resp.RefreshToken}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout attempt %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := postJSON(t, handler, "/v1/auth/refresh", map[string]string{"refresh_token": resp.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token denied, got %d", rr.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	resp := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Profile     auth.Profile `json:"profile"`
		Permissions []string     `json:"permissions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if body.Profile.Username != "admin" || body.Profile.ID != "u-1" {
		t.Fatalf("unexpected profile: %+v", body.Profile)
	}
	if len(body.Permissions) != 2 || body.Permissions[0] != auth.PermApproveTimesheet {
		t.Fatalf("unexpected permissions: %v", body.Permissions)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("password")) {
		t.Fatal("response must not carry credential material")
	}
}

func TestMeEndpointRejectsMissingToken(t *testing.T) {
	_, handler, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	resp := loginAs(t, handler, "admin", "admin123")

	header := http.Header{"Authorization": []string{"Bearer " + resp.AccessToken}}
	rr := postJSON(t, handler, "/v1/auth/password", map[string]string{
		"old_password": "admin123",
		"new_password": "s3cret-new",
	}, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Outstanding refresh tokens are revoked by the change.
	rr = postJSON(t, handler, "/v1/auth/refresh", map[string]string{"refresh_token": resp.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected old refresh token denied, got %d", rr.Code)
	}

	loginAs(t, handler, "admin", "s3cret-new")
}

func TestChangePasswordEndpointWrongOldSecret(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	resp := loginAs(t, handler, "admin", "admin123")

	header := http.Header{"Authorization": []string{"Bearer " + resp.AccessToken}}
	rr := postJSON(t, handler, "/v1/auth/password", map[string]string{
		"old_password": "wrong",
		"new_password": "s3cret-new",
	}, header)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	_, handler, _ := newTestAPI(t)
	resp := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		UserID      string   `json:"user_id"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode permissions response: %v", err)
	}
	if body.UserID != "u-1" {
		t.Fatalf("unexpected user id: %s", body.UserID)
	}
	if len(body.Permissions) != 2 {
		t.Fatalf("unexpected permissions: %v", body.Permissions)
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, handler, _ := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected unknown route to demand auth, got %d", rr.Code)
	}
}
