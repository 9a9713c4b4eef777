package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/config"
	"github.com/stemsi/savetest-backend/internal/handler"
	"github.com/stemsi/savetest-backend/internal/lifecycle"
	"github.com/stemsi/savetest-backend/internal/lock"
	"github.com/stemsi/savetest-backend/internal/repository"
	"github.com/stemsi/savetest-backend/internal/service"
	"github.com/stemsi/savetest-backend/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, health map[string]HealthCheck) (*gin.Engine, *service.AuthService) {
	t.Helper()
	validator.Setup()
	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: "secret", JWTExpiry: time.Hour}
	log := zerolog.Nop()

	store := repository.NewMemoryStore()
	manager := lifecycle.NewManager(store, lock.NewLocal(), lifecycle.Options{Settings: store.Settings()}, log)
	handlers := &Handlers{
		Attempt:      handler.NewAttemptHandler(service.NewAttemptService(store, manager, nil, log), log),
		TaskSettings: handler.NewTaskSettingsHandler(service.NewTaskSettingsService(store.Settings(), log)),
	}
	auth := service.NewAuthService(cfg)
	return SetupRouter(auth, handlers, cfg, Options{Log: log, Health: health}), auth
}

func call(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setup(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	w := call(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	r, _ = setup(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = call(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsIsPublic(t *testing.T) {
	r, _ := setup(t, nil)
	w := call(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSavetestsRequireToken(t *testing.T) {
	r, auth := setup(t, nil)

	w := call(r, http.MethodGet, "/api/v1/savetests", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := auth.GenerateToken(1, service.RoleStudent)
	require.NoError(t, err)
	w = call(r, http.MethodGet, "/api/v1/savetests/latest?task_id=1", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestTaskSettingsWriteNeedsTutorOrAdmin(t *testing.T) {
	r, auth := setup(t, nil)

	student, err := auth.GenerateToken(1, service.RoleStudent)
	require.NoError(t, err)
	tutor, err := auth.GenerateToken(2, service.RoleTutor)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPut, "/api/v1/tasks/1/test-settings", student).Code)
	// Tutors pass the role check and reach validation.
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodPut, "/api/v1/tasks/1/test-settings", tutor).Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/api/v1/tasks/1/test-settings", student).Code)
}
