package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/model"
)

// TaskSettingsRepository persists task test settings.
type TaskSettingsRepository interface {
	Get(ctx context.Context, taskID int64) (*model.TaskTestSettings, error)
	Upsert(ctx context.Context, s *model.TaskTestSettings) error
}

type TaskSettingsService struct {
	repo TaskSettingsRepository
	log  zerolog.Logger
}

func NewTaskSettingsService(repo TaskSettingsRepository, log zerolog.Logger) *TaskSettingsService {
	return &TaskSettingsService{
		repo: repo,
		log:  log.With().Str("component", "task_settings_service").Logger(),
	}
}

func (s *TaskSettingsService) Get(ctx context.Context, taskID int64) (*model.TaskTestSettings, error) {
	return s.repo.Get(ctx, taskID)
}

// Upsert saves settings for a task. Omitted flags default to false.
func (s *TaskSettingsService) Upsert(ctx context.Context, taskID int64, req *model.UpsertTaskTestSettingsRequest) (*model.TaskTestSettings, error) {
	settings := &model.TaskTestSettings{
		TaskID:              taskID,
		HasTest:             *req.HasTest,
		RestrictAttempts:    req.RestrictAttempts != nil && *req.RestrictAttempts,
		DelayRestartMinutes: req.DelayRestartMinutes,
		RetakeOnResubmit:    req.RetakeOnResubmit != nil && *req.RetakeOnResubmit,
	}
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("task_id", taskID).
		Bool("has_test", settings.HasTest).
		Bool("restrict_attempts", settings.RestrictAttempts).
		Msg("Task test settings saved")
	return settings, nil
}
