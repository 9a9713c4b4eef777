// Package lifecycle owns the test-attempt state machine: which attempt is
// current for a task, when a new one starts, and how exam data is attached.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/config"
	"github.com/stemsi/savetest-backend/internal/lock"
	"github.com/stemsi/savetest-backend/internal/metrics"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/repository"
)

// DefaultAttemptName labels attempts created by resolution.
const DefaultAttemptName = "Default Test"

// maxResolveTries bounds re-reads when the latest attempt changes mid-resolution.
const maxResolveTries = 3

// Sentinel errors raised by the manager.
var (
	ErrNotFound         = repository.ErrNotFound
	ErrMalformedPayload = model.ErrMalformedPayload
	ErrRetakeTooSoon    = errors.New("retake not allowed yet")
	ErrTaskHasNoTest    = errors.New("task has no test")
)

// Store is the persistence the manager needs. Each call must be atomic.
type Store interface {
	Latest(ctx context.Context, q model.LatestQuery) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	SetState(ctx context.Context, id int64, state model.AttemptState) error
	UpdateExamData(ctx context.Context, id int64, data model.ExamData) (*model.Attempt, error)
}

// SettingsSource looks up per-task test settings; ErrNotFound means defaults.
type SettingsSource interface {
	Get(ctx context.Context, taskID int64) (*model.TaskTestSettings, error)
}

// Scope decides which attempts compete for "latest".
type Scope string

const (
	// ScopeGlobal considers every task's attempts.
	ScopeGlobal Scope = "global"
	// ScopeTask considers only the requested task's attempts.
	ScopeTask Scope = "task"
)

// Action is the transition chosen by Decide.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionResume
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Decide. For ActionCreate, Attempt is an unsaved
// draft; for ActionResume it is latest moved to the resume state.
type Decision struct {
	Action  Action
	Attempt *model.Attempt
}

// Decide applies the resolution rule to the latest attempt (nil if none).
func Decide(latest *model.Attempt, taskID int64) Decision {
	if latest == nil {
		return Decision{Action: ActionCreate, Attempt: newAttempt(taskID, 1)}
	}
	if latest.State.Completed() {
		return Decision{Action: ActionCreate, Attempt: newAttempt(taskID, latest.AttemptNumber+1)}
	}

	resumed := *latest
	resumed.State = model.AttemptStateResume
	return Decision{Action: ActionResume, Attempt: &resumed}
}

func newAttempt(taskID int64, number int) *model.Attempt {
	return &model.Attempt{
		TaskID:        taskID,
		Name:          DefaultAttemptName,
		AttemptNumber: number,
		PassStatus:    false,
		State:         model.AttemptStateAbInitio,
	}
}

// Options configure a Manager.
type Options struct {
	Scope    Scope
	OrderBy  model.Ordering
	Clock    clock.Clock
	Settings SettingsSource
}

// Manager resolves and mutates attempts on behalf of the HTTP layer.
type Manager struct {
	store    Store
	locker   lock.Locker
	settings SettingsSource
	scope    Scope
	orderBy  model.Ordering
	clock    clock.Clock
	log      zerolog.Logger
}

// NewManager creates a Manager. Zero options mean global scope, sequence
// ordering, the wall clock and no task settings.
func NewManager(store Store, locker lock.Locker, opts Options, log zerolog.Logger) *Manager {
	m := &Manager{
		store:    store,
		locker:   locker,
		settings: opts.Settings,
		scope:    opts.Scope,
		orderBy:  opts.OrderBy,
		clock:    opts.Clock,
		log:      log.With().Str("component", "attempt_lifecycle").Logger(),
	}
	if m.scope != ScopeTask {
		m.scope = ScopeGlobal
	}
	if m.orderBy != model.OrderByCreatedAt {
		m.orderBy = model.OrderBySeq
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	return m
}

// Scope reports the configured resolution scope.
func (m *Manager) Scope() Scope { return m.scope }

func (m *Manager) latestQuery(taskID *int64, completedOnly bool) model.LatestQuery {
	q := model.LatestQuery{CompletedOnly: completedOnly, OrderBy: m.orderBy}
	if m.scope == ScopeTask {
		q.TaskID = taskID
	}
	return q
}

func (m *Manager) lockKey(taskID int64) string {
	if m.scope == ScopeTask {
		return config.CacheKey.AttemptResolveLockKey(config.CacheKey.TaskResolveScope(taskID))
	}
	return config.CacheKey.AttemptResolveLockKey(string(ScopeGlobal))
}

func (m *Manager) taskSettings(ctx context.Context, taskID int64) (*model.TaskTestSettings, error) {
	if m.settings == nil {
		return nil, nil
	}
	s, err := m.settings.Get(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task settings: %w", err)
	}
	return s, nil
}

// ResolveCurrent returns the attempt the caller should work on for taskID:
// the latest incomplete attempt (now marked resume) or a freshly created one.
// Exactly one row is created or updated per successful call.
func (m *Manager) ResolveCurrent(ctx context.Context, taskID int64) (*model.Attempt, error) {
	settings, err := m.taskSettings(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if settings != nil && !settings.HasTest {
		metrics.AttemptResolutions.WithLabelValues(metrics.OutcomeRefused).Inc()
		return nil, ErrTaskHasNoTest
	}

	release, err := m.acquire(ctx, []string{m.lockKey(taskID)})
	if err != nil {
		return nil, err
	}
	defer release()

	var d Decision
	for try := 1; ; try++ {
		latest, err := m.store.Latest(ctx, m.latestQuery(&taskID, false))
		if errors.Is(err, repository.ErrNotFound) {
			latest = nil
		} else if err != nil {
			return nil, fmt.Errorf("find latest attempt: %w", err)
		}

		if err := m.checkRestart(latest, settings); err != nil {
			metrics.AttemptResolutions.WithLabelValues(metrics.OutcomeRefused).Inc()
			return nil, err
		}

		d = Decide(latest, taskID)
		err = m.apply(ctx, d)
		if err == nil {
			break
		}
		// The attempt was completed or deleted after Latest read it; decide again.
		if errors.Is(err, repository.ErrNotFound) && try < maxResolveTries {
			m.log.Debug().Int64("attempt_id", d.Attempt.ID).Int("try", try).Msg("Latest attempt changed, re-reading")
			continue
		}
		return nil, err
	}

	m.log.Debug().
		Str("action", d.Action.String()).
		Str("scope", string(m.scope)).
		Int64("task_id", taskID).
		Int64("attempt_id", d.Attempt.ID).
		Int("attempt_number", d.Attempt.AttemptNumber).
		Str("cmi_entry", string(d.Attempt.State.CmiEntry())).
		Msg("Resolved current attempt")

	return d.Attempt, nil
}

// apply performs the single write a decision requires.
func (m *Manager) apply(ctx context.Context, d Decision) error {
	switch d.Action {
	case ActionCreate:
		if err := m.store.Create(ctx, d.Attempt); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		metrics.AttemptResolutions.WithLabelValues(metrics.OutcomeCreated).Inc()
	case ActionResume:
		if err := m.store.SetState(ctx, d.Attempt.ID, model.AttemptStateResume); err != nil {
			return fmt.Errorf("resume attempt %d: %w", d.Attempt.ID, err)
		}
		metrics.AttemptResolutions.WithLabelValues(metrics.OutcomeResumed).Inc()
	}
	return nil
}

// Exclusive runs fn while holding the resolution locks covering taskIDs, so
// direct edits of an attempt never interleave with ResolveCurrent.
func (m *Manager) Exclusive(ctx context.Context, fn func(ctx context.Context) error, taskIDs ...int64) error {
	seen := make(map[string]bool, len(taskIDs))
	keys := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		if k := m.lockKey(id); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	// A fixed acquisition order keeps two multi-key holders from deadlocking.
	sort.Strings(keys)

	release, err := m.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// acquire takes keys in order and returns a func releasing them in reverse.
func (m *Manager) acquire(ctx context.Context, keys []string) (func(), error) {
	unlocks := make([]lock.Unlock, 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			if err := unlocks[i](context.WithoutCancel(ctx)); err != nil {
				m.log.Warn().Err(err).Str("key", keys[i]).Msg("Release resolution lock")
			}
		}
	}
	for _, k := range keys {
		unlock, err := m.locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// checkRestart enforces the task's retake delay after a completed attempt.
func (m *Manager) checkRestart(latest *model.Attempt, settings *model.TaskTestSettings) error {
	delay := settings.RestartDelay()
	if latest == nil || !latest.State.Completed() || delay == 0 {
		return nil
	}

	finished := latest.UpdatedAt
	if latest.AttemptedAt != nil {
		finished = *latest.AttemptedAt
	}
	if wait := finished.Add(delay).Sub(m.clock.Now()); wait > 0 {
		return fmt.Errorf("%w: %s remaining", ErrRetakeTooSoon, wait.Round(time.Second))
	}
	return nil
}

// ResolveLatestCompleted returns the most recent completed attempt. taskID is
// only consulted under ScopeTask.
func (m *Manager) ResolveLatestCompleted(ctx context.Context, taskID *int64) (*model.Attempt, error) {
	a, err := m.store.Latest(ctx, m.latestQuery(taskID, true))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find latest completed attempt: %w", err)
	}
	return a, nil
}

// AttachExamData replaces the attempt's exam payload with raw, canonicalised.
// No other field changes.
func (m *Manager) AttachExamData(ctx context.Context, id int64, raw []byte) (*model.Attempt, error) {
	data, err := model.ParseExamData(raw)
	if err != nil {
		metrics.ExamDataUpdates.WithLabelValues("malformed").Inc()
		return nil, err
	}

	a, err := m.store.UpdateExamData(ctx, id, data)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update exam data for attempt %d: %w", id, err)
	}

	metrics.ExamDataUpdates.WithLabelValues("accepted").Inc()
	m.log.Debug().Int64("attempt_id", id).Int("bytes", len(data.String())).Msg("Exam data updated")
	return a, nil
}
