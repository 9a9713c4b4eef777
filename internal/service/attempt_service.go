package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/lifecycle"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/repository"
)

// ErrAttemptCompleted is returned when an update touches anything other than
// exam data on a completed attempt.
var ErrAttemptCompleted = errors.New("attempt is completed")

// AttemptRepository is the attempt persistence used by AttemptService.
// Implemented by repository.AttemptRepository and repository.MemoryStore.
type AttemptRepository interface {
	lifecycle.Store
	GetByID(ctx context.Context, id int64) (*model.Attempt, error)
	List(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, int64, error)
	Update(ctx context.Context, a *model.Attempt) error
	Delete(ctx context.Context, id int64) error
}

// AttemptService handles test attempt CRUD and delegates lifecycle rules.
type AttemptService struct {
	repo    AttemptRepository
	manager *lifecycle.Manager
	clock   clock.Clock
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(repo AttemptRepository, manager *lifecycle.Manager, clk clock.Clock, log zerolog.Logger) *AttemptService {
	if clk == nil {
		clk = clock.New()
	}
	return &AttemptService{
		repo:    repo,
		manager: manager,
		clock:   clk,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// List returns attempts newest first.
func (s *AttemptService) List(ctx context.Context, q model.ListAttemptsQuery) ([]model.Attempt, int64, error) {
	f := model.AttemptFilter{TaskID: q.TaskID, Completed: q.Completed}
	if q.PerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		f.Limit = q.PerPage
		f.Offset = (page - 1) * q.PerPage
	}
	return s.repo.List(ctx, f)
}

// Get returns one attempt or repository.ErrNotFound.
func (s *AttemptService) Get(ctx context.Context, id int64) (*model.Attempt, error) {
	return s.repo.GetByID(ctx, id)
}

// Create stores an attempt exactly as described by the request.
func (s *AttemptService) Create(ctx context.Context, req *model.CreateAttemptRequest) (*model.Attempt, error) {
	entry := model.CmiEntryAbInitio
	if req.CmiEntry != nil {
		entry = *req.CmiEntry
	}

	a := &model.Attempt{
		TaskID:        req.TaskID,
		Name:          req.Name,
		AttemptNumber: req.AttemptNumber,
		PassStatus:    *req.PassStatus,
		ExamResult:    req.ExamResult,
		State:         model.StateFrom(*req.Completed, entry),
		AttemptedAt:   req.AttemptedAt,
	}
	if req.ExamData != nil {
		a.ExamData = *req.ExamData
	}
	s.stampCompletion(a)

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return a, nil
}

// Update applies a partial update. Completed attempts only accept exam data.
// The read-modify-write runs under the resolution lock of the attempt's task
// (and of its new task when task_id moves), so it cannot overwrite a
// concurrent resume.
func (s *AttemptService) Update(ctx context.Context, id int64, req *model.UpdateAttemptRequest) (*model.Attempt, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	taskIDs := []int64{current.TaskID}
	if req.TaskID != nil {
		taskIDs = append(taskIDs, *req.TaskID)
	}

	var a *model.Attempt
	err = s.manager.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.apply(a, req); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("update attempt %d: %w", id, err)
		}
		return nil
	}, taskIDs...)
	if err != nil {
		return nil, err
	}

	if a.State.Completed() && req.Completed != nil {
		s.log.Info().
			Int64("attempt_id", a.ID).
			Int64("task_id", a.TaskID).
			Bool("pass_status", a.PassStatus).
			Msg("Attempt completed")
	}
	return a, nil
}

// apply copies the request's fields onto a, enforcing the completed latch.
// cmi_entry only ever moves forward to resume.
func (s *AttemptService) apply(a *model.Attempt, req *model.UpdateAttemptRequest) error {
	if a.State.Completed() && req.TouchesLockedFields() {
		return ErrAttemptCompleted
	}

	if req.TaskID != nil {
		a.TaskID = *req.TaskID
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.AttemptNumber != nil {
		a.AttemptNumber = *req.AttemptNumber
	}
	if req.PassStatus != nil {
		a.PassStatus = *req.PassStatus
	}
	if req.ExamData != nil {
		a.ExamData = *req.ExamData
	}
	if req.ExamResult != nil {
		a.ExamResult = req.ExamResult
	}
	if req.AttemptedAt != nil {
		a.AttemptedAt = req.AttemptedAt
	}
	if req.CmiEntry != nil && *req.CmiEntry == model.CmiEntryResume && !a.State.Completed() {
		a.State = model.AttemptStateResume
	}
	if req.Completed != nil && *req.Completed {
		a.State = model.AttemptStateCompleted
		s.stampCompletion(a)
	}
	return nil
}

// stampCompletion records the submission time when the latch fires without one.
func (s *AttemptService) stampCompletion(a *model.Attempt) {
	if a.State.Completed() && a.AttemptedAt == nil {
		now := s.clock.Now().UTC()
		a.AttemptedAt = &now
	}
}

// Delete removes an attempt under its task's resolution lock;
// repository.ErrNotFound if absent.
func (s *AttemptService) Delete(ctx context.Context, id int64) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.manager.Exclusive(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	}, a.TaskID)
}

// ResolveCurrent delegates to the lifecycle manager.
func (s *AttemptService) ResolveCurrent(ctx context.Context, taskID int64) (*model.Attempt, error) {
	return s.manager.ResolveCurrent(ctx, taskID)
}

// ResolveLatestCompleted delegates to the lifecycle manager.
func (s *AttemptService) ResolveLatestCompleted(ctx context.Context, taskID *int64) (*model.Attempt, error) {
	return s.manager.ResolveLatestCompleted(ctx, taskID)
}

// AttachExamData delegates to the lifecycle manager.
func (s *AttemptService) AttachExamData(ctx context.Context, id int64, raw []byte) (*model.Attempt, error) {
	return s.manager.AttachExamData(ctx, id, raw)
}

// IsNotFound reports whether err means the attempt does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
