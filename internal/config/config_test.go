package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ATTEMPT_SCOPE", "")
	t.Setenv("LOCK_BACKEND", "")

	cfg := Load()
	assert.Equal(t, "global", cfg.AttemptScope)
	assert.Equal(t, "seq", cfg.AttemptOrdering)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ATTEMPT_SCOPE", "Task")
	t.Setenv("ATTEMPT_ORDERING", "created_at")
	t.Setenv("LOCK_BACKEND", "bogus")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("JWT_EXPIRY_HOURS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "task", cfg.AttemptScope)
	assert.Equal(t, "created_at", cfg.AttemptOrdering)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "savetest:resolve_lock:global", CacheKey.AttemptResolveLockKey("global"))
	assert.Equal(t, "task:42", CacheKey.TaskResolveScope(42))
}
