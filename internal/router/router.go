package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/config"
	"github.com/stemsi/savetest-backend/internal/handler"
	"github.com/stemsi/savetest-backend/internal/middleware"
	"github.com/stemsi/savetest-backend/internal/response"
	"github.com/stemsi/savetest-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt      *handler.AttemptHandler
	TaskSettings *handler.TaskSettingsHandler
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options carries optional router collaborators.
type Options struct {
	Log         zerolog.Logger
	RateLimiter *middleware.RateLimiter
	Health      map[string]HealthCheck
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
	opts Options,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.AccessLog(opts.Log))
	router.Use(middleware.Brotli())

	router.GET("/health", health(opts.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RequireJWT(authService), middleware.NoStore())
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}

	// ─── Save tests ────────────────────────────────────────────────────
	savetests := api.Group("/savetests")
	{
		savetests.GET("", handlers.Attempt.List)
		savetests.GET("/latest", handlers.Attempt.Latest)
		savetests.GET("/completed-latest", handlers.Attempt.CompletedLatest)
		savetests.GET("/:id", handlers.Attempt.Get)
		savetests.POST("", handlers.Attempt.Create)
		savetests.PUT("/:id", handlers.Attempt.Update)
		savetests.DELETE("/:id", handlers.Attempt.Delete)
		savetests.PUT("/:id/exam_data", handlers.Attempt.UpdateExamData)
	}

	// ─── Task test settings ────────────────────────────────────────────
	tasks := api.Group("/tasks/:task_id")
	{
		tasks.GET("/test-settings", handlers.TaskSettings.Get)
		tasks.PUT("/test-settings",
			middleware.RequireAnyRole(service.RoleTutor, service.RoleAdmin),
			handlers.TaskSettings.Upsert)
	}

	return router
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		response.Success(c, status, gin.H{"status": state, "dependencies": deps})
	}
}
