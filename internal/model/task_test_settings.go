package model

import "time"

// TaskTestSettings holds the per-task test options that drive the restart policy.
type TaskTestSettings struct {
	TaskID              int64     `json:"task_id"`
	HasTest             bool      `json:"has_test"`
	RestrictAttempts    bool      `json:"restrict_attempts"`
	DelayRestartMinutes *int      `json:"delay_restart_minutes"`
	RetakeOnResubmit    bool      `json:"retake_on_resubmit"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// RestartDelay returns the enforced wait between a completed attempt and the
// next one, or zero when retakes are unrestricted.
func (s *TaskTestSettings) RestartDelay() time.Duration {
	if s == nil || !s.RestrictAttempts || s.DelayRestartMinutes == nil || *s.DelayRestartMinutes <= 0 {
		return 0
	}
	return time.Duration(*s.DelayRestartMinutes) * time.Minute
}

// UpsertTaskTestSettingsRequest is the payload for saving task test settings.
type UpsertTaskTestSettingsRequest struct {
	HasTest             *bool `json:"has_test" binding:"required"`
	RestrictAttempts    *bool `json:"restrict_attempts"`
	DelayRestartMinutes *int  `json:"delay_restart_minutes" binding:"omitempty,min=0,max=525600"`
	RetakeOnResubmit    *bool `json:"retake_on_resubmit"`
}
