package lifecycle

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/jwt"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/signup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/subscription"
)

type stubServices struct {
	cleanupRuns int
}

func (s *stubServices) Ping(context.Context) error { return nil }

func (s *stubServices) Run(context.Context) (models.CleanupReport, error) {
	s.cleanupRuns++
	return models.CleanupReport{Success: true, Results: []models.CleanupResult{}}, nil
}

func (s *stubServices) Register(context.Context, models.SignupRequest) (*signup.Result, error) {
	return &signup.Result{UserID: "user-1", TrialEnd: time.Now().Add(time.Hour)}, nil
}

func (s *stubServices) Decide(context.Context, string) (models.AccessDecision, error) {
	return models.AccessDecision{AccessType: models.AccessNone}, nil
}

func (s *stubServices) ApplyEvent(context.Context, models.SubscriptionEvent) (subscription.Outcome, error) {
	return subscription.OutcomeApplied, nil
}

func (s *stubServices) LinkCustomer(context.Context, string, string) error { return nil }

func newRouter(t *testing.T, cfg *config.Config) (http.Handler, *stubServices) {
	t.Helper()
	stub := &stubServices{}
	r := chi.NewRouter()
	RegisterRoutes(r, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, Services{
		Health:       stub,
		Cleanup:      stub,
		Signup:       stub,
		Access:       stub,
		Synchronizer: stub,
	})
	return r, stub
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPServer: config.HTTPServer{SignupRPS: 1, SignupBurst: 1},
		Stripe:     config.Stripe{WebhookSecret: "whsec_test"},
	}
}

func TestRoutes_Health(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_Metrics(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_CleanupWithoutSecret(t *testing.T) {
	r, stub := newRouter(t, testConfig())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cleanup", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/cleanup", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	assert.Equal(t, 1, stub.cleanupRuns)
}

func TestRoutes_CleanupServiceToken(t *testing.T) {
	const secret = "cleanup-secret"
	cfg := testConfig()
	cfg.Cleanup.JWTSecret = secret
	r, stub := newRouter(t, cfg)

	t.Run("без токена", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cleanup", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("токен другой области", func(t *testing.T) {
		token, err := jwt.NewMaker(secret).Issue("scheduler", "signup", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/cleanup", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("preflight без токена", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/cleanup", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("валидный токен", func(t *testing.T) {
		token, err := jwt.NewMaker(secret).Issue("scheduler", CleanupScope, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/cleanup", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	assert.Equal(t, 1, stub.cleanupRuns)
}

func TestRoutes_SignupRateLimited(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	body := []byte(`{"email":"new@example.com","password":"password123"}`)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/trials", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/trials", bytes.NewReader(body)))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRoutes_Access(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/access/3f1c2a9e-8d3b-4b7a-9c55-0a1b2c3d4e5f", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"access_type":"no_access"`)
}

func TestRoutes_Docs(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/docs/doc.json", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"/api/v1/webhooks/stripe"`)
}
