package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vanish.share/config"
	"vanish.share/internal/engine"
	"vanish.share/internal/models"
	"vanish.share/internal/policy"
	"vanish.share/internal/store"
)

const testJWTSecret = "test-secret"

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Admin.JWTSecret = testJWTSecret

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore()
	cache := policy.NewCache(st, models.PolicySettings{}, time.Second, logger)
	if err := cache.Bootstrap(context.Background()); err != nil {
		t.Fatalf("policy bootstrap failed: %v", err)
	}

	gate := engine.NewAccessGate(st, cache, logger)
	eng := engine.New(st, gate, engine.Limits{
		TTLOptions:          cfg.TTLOptions(),
		DefaultTTL:          cfg.DefaultTTL(),
		MaxViewsLimit:       cfg.Secrets.MaxViewsLimit,
		EnableBurnAfterTime: cfg.Secrets.EnableBurnAfterTime,
		StoreTimeout:        cfg.StoreTimeout(),
	}, nil, logger)

	return SetupRouter(eng, cache, cfg, logger), st
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createSecret(t *testing.T, handler http.Handler, body CreateRequest) CreateResponse {
	t.Helper()
	rec := postJSON(t, handler, "/api/secrets", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp CreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return resp
}

func TestCreateAndViewSecret(t *testing.T) {
	handler, _ := newTestServer(t)

	created := createSecret(t, handler, CreateRequest{
		Ciphertext:  []byte("opaque blob"),
		MaxViews:    1,
		TTLSeconds:  86400,
		PreventBurn: true,
	})
	if created.ID == "" {
		t.Fatal("empty id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("view status = %d, body %s", rec.Code, rec.Body.String())
	}

	var view ViewResponse
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(view.Ciphertext) != "opaque blob" {
		t.Fatalf("ciphertext mismatch: %q", view.Ciphertext)
	}
	if view.ViewsRemaining != 0 {
		t.Fatalf("views remaining = %d, want 0", view.ViewsRemaining)
	}

	// Exhausted-but-retained maps to 423, distinct from 404 and 410.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusLocked {
		t.Fatalf("second view status = %d, want 423", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if errResp.Code != "exhausted" {
		t.Fatalf("error code = %q, want exhausted", errResp.Code)
	}
}

func TestViewUnknownSecret(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestViewExpiredSecret(t *testing.T) {
	handler, st := newTestServer(t)

	now := time.Now()
	err := st.CreateSecret(context.Background(), &models.Secret{
		ID:             "stale",
		Ciphertext:     []byte("x"),
		MaxViews:       3,
		RemainingViews: 3,
		ExpiresAt:      now.Add(-time.Minute),
		CreatedAt:      now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/stale", nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
}

func TestViewWithPassword(t *testing.T) {
	handler, _ := newTestServer(t)

	created := createSecret(t, handler, CreateRequest{
		Ciphertext: []byte("x"),
		MaxViews:   3,
		TTLSeconds: 3600,
		Password:   "hunter2",
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing password status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID, nil)
	req.Header.Set("X-Secret-Password", "hunter2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct password status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStatusDoesNotConsumeViews(t *testing.T) {
	handler, _ := newTestServer(t)

	created := createSecret(t, handler, CreateRequest{
		Ciphertext: []byte("x"),
		MaxViews:   1,
		TTLSeconds: 3600,
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/secrets/"+created.ID+"/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status call %d = %d, want 200", i, rec.Code)
		}
		var status StatusResponse
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !status.Exists || status.ViewsRemaining != 1 {
			t.Fatalf("status = %+v, want exists with 1 view remaining", status)
		}
	}
}

func TestCreateRejectsDisallowedTTL(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := postJSON(t, handler, "/api/secrets", CreateRequest{
		Ciphertext: []byte("x"),
		TTLSeconds: 1234,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRequiresJSONContentType(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/secrets", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}
	return token
}

func TestAdminPolicyRequiresToken(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/policy", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/policy", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/policy", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminPolicyUpdateTakesEffectImmediately(t *testing.T) {
	handler, _ := newTestServer(t)

	data, _ := json.Marshal(PolicyUpdateRequest{ReadOnly: true})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/policy", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The same process observes its own write: creation is now denied.
	rec = postJSON(t, handler, "/api/secrets", CreateRequest{Ciphertext: []byte("x"), TTLSeconds: 3600})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("create in read-only status = %d, want 422", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if errResp.Code != "policy_denied" {
		t.Fatalf("error code = %q, want policy_denied", errResp.Code)
	}
}

func TestSignupCheck(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := postJSON(t, handler, "/api/signup/check", SignupCheckRequest{Email: "alice@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open signup status = %d, want 200", rec.Code)
	}

	data, _ := json.Marshal(PolicyUpdateRequest{RestrictOrganizationEmail: "corp.example"})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/policy", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy update status = %d", rec.Code)
	}

	rec = postJSON(t, handler, "/api/signup/check", SignupCheckRequest{Email: "alice@example.com"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("restricted signup status = %d, want 422", rec.Code)
	}
	rec = postJSON(t, handler, "/api/signup/check", SignupCheckRequest{Email: "bob@corp.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed domain status = %d, want 200", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
