package model

import (
	"encoding/json"
	"time"
)

// CmiEntry is the SCORM cmi.entry value reported for an attempt.
type CmiEntry string

const (
	CmiEntryAbInitio CmiEntry = "ab-initio"
	CmiEntryResume   CmiEntry = "resume"
	// CmiEntryNone is reported once an attempt is completed.
	CmiEntryNone CmiEntry = ""
)

// AttemptState folds the completed latch and the cmi entry marker into one tag.
type AttemptState string

const (
	AttemptStateAbInitio  AttemptState = "ab-initio"
	AttemptStateResume    AttemptState = "resume"
	AttemptStateCompleted AttemptState = "completed"
)

// StateFrom maps the wire pair (completed, cmi_entry) onto a state.
func StateFrom(completed bool, entry CmiEntry) AttemptState {
	switch {
	case completed:
		return AttemptStateCompleted
	case entry == CmiEntryResume:
		return AttemptStateResume
	default:
		return AttemptStateAbInitio
	}
}

// Completed reports whether the latch has fired.
func (s AttemptState) Completed() bool { return s == AttemptStateCompleted }

// CmiEntry returns the SCORM entry value for the state.
func (s AttemptState) CmiEntry() CmiEntry {
	switch s {
	case AttemptStateAbInitio:
		return CmiEntryAbInitio
	case AttemptStateResume:
		return CmiEntryResume
	default:
		return CmiEntryNone
	}
}

// Valid reports whether s is a known state.
func (s AttemptState) Valid() bool {
	switch s {
	case AttemptStateAbInitio, AttemptStateResume, AttemptStateCompleted:
		return true
	}
	return false
}

// Attempt is one instance of a task's test being taken.
type Attempt struct {
	ID            int64        `json:"id"`
	Seq           int64        `json:"-"`
	TaskID        int64        `json:"task_id"`
	Name          string       `json:"name"`
	AttemptNumber int          `json:"attempt_number"`
	PassStatus    bool         `json:"pass_status"`
	ExamData      ExamData     `json:"exam_data"`
	ExamResult    *string      `json:"exam_result,omitempty"`
	State         AttemptState `json:"-"`
	AttemptedAt   *time.Time   `json:"attempted_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// attemptWire is the JSON shape: the state is exposed as completed + cmi_entry.
type attemptWire struct {
	attemptFields
	Completed bool     `json:"completed"`
	CmiEntry  CmiEntry `json:"cmi_entry"`
}

type attemptFields Attempt

// MarshalJSON implements json.Marshaler.
func (a Attempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(attemptWire{
		attemptFields: attemptFields(a),
		Completed:     a.State.Completed(),
		CmiEntry:      a.State.CmiEntry(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Attempt) UnmarshalJSON(b []byte) error {
	var w attemptWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = Attempt(w.attemptFields)
	a.State = StateFrom(w.Completed, w.CmiEntry)
	return nil
}

// Ordering is the comparison key that defines "most recent".
type Ordering string

const (
	OrderBySeq       Ordering = "seq"
	OrderByCreatedAt Ordering = "created_at"
)

// LatestQuery selects the most recent attempt under an ordering.
type LatestQuery struct {
	// TaskID restricts the search to one task; nil searches all tasks.
	TaskID        *int64
	CompletedOnly bool
	OrderBy       Ordering
}

// AttemptFilter narrows a listing.
type AttemptFilter struct {
	TaskID    *int64
	Completed *bool
	Limit     int
	Offset    int
}

// ─── Requests ──────────────────────────────────────────────────────────────

// CreateAttemptRequest is the payload for direct attempt creation.
type CreateAttemptRequest struct {
	TaskID        int64      `json:"task_id" binding:"required,gt=0"`
	Name          string     `json:"name" binding:"required,min=1,max=255"`
	AttemptNumber int        `json:"attempt_number" binding:"required,min=1"`
	PassStatus    *bool      `json:"pass_status" binding:"required"`
	ExamData      *ExamData  `json:"exam_data"`
	Completed     *bool      `json:"completed" binding:"required"`
	CmiEntry      *CmiEntry  `json:"cmi_entry" binding:"omitempty,oneof=ab-initio resume"`
	ExamResult    *string    `json:"exam_result" binding:"omitempty,max=65535"`
	AttemptedAt   *time.Time `json:"attempted_at"`
}

// UpdateAttemptRequest is a partial update; nil fields are left untouched.
// ab-initio is only ever assigned at creation, so cmi_entry may only move to resume.
type UpdateAttemptRequest struct {
	TaskID        *int64     `json:"task_id" binding:"omitempty,gt=0"`
	Name          *string    `json:"name" binding:"omitempty,min=1,max=255"`
	AttemptNumber *int       `json:"attempt_number" binding:"omitempty,min=1"`
	PassStatus    *bool      `json:"pass_status"`
	ExamData      *ExamData  `json:"exam_data"`
	Completed     *bool      `json:"completed"`
	CmiEntry      *CmiEntry  `json:"cmi_entry" binding:"omitempty,oneof=resume"`
	ExamResult    *string    `json:"exam_result" binding:"omitempty,max=65535"`
	AttemptedAt   *time.Time `json:"attempted_at"`
}

// TouchesLockedFields reports whether the request changes anything besides
// exam_data, which is all a completed attempt accepts.
func (r *UpdateAttemptRequest) TouchesLockedFields() bool {
	return r.TaskID != nil || r.Name != nil || r.AttemptNumber != nil ||
		r.PassStatus != nil || r.Completed != nil || r.CmiEntry != nil ||
		r.ExamResult != nil || r.AttemptedAt != nil
}

// ListAttemptsQuery holds the query parameters for listing attempts.
type ListAttemptsQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PerPage   int    `form:"per_page" binding:"omitempty,min=1,max=100"`
	TaskID    *int64 `form:"task_id" binding:"omitempty,gt=0"`
	Completed *bool  `form:"completed"`
}

// LatestAttemptQuery holds the query parameters for current-attempt resolution.
type LatestAttemptQuery struct {
	TaskID int64 `form:"task_id" binding:"required,gt=0"`
}

// CompletedLatestQuery optionally scopes the completed lookup to a task.
type CompletedLatestQuery struct {
	TaskID *int64 `form:"task_id" binding:"omitempty,gt=0"`
}
