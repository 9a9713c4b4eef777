package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptResolveLockKey returns the lock key guarding current-attempt
// resolution for a scope ("global" or a task id).
func (r *CacheKeyStruct) AttemptResolveLockKey(scope string) string {
	return fmt.Sprintf("savetest:resolve_lock:%s", scope)
}

// TaskResolveScope returns the scope name used for a single task.
func (r *CacheKeyStruct) TaskResolveScope(taskID int64) string {
	return fmt.Sprintf("task:%d", taskID)
}

var CacheKey = NewCacheKeyStruct()
