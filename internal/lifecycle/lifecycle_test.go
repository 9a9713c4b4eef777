package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/lock"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *repository.MemoryStore
	clock   *clock.Mock
	manager *Manager
}

func newFixture(opts Options) *fixture {
	clk := clock.NewMock()
	store := repository.NewMemoryStoreWithClock(clk)
	opts.Clock = clk
	if opts.Settings == nil {
		opts.Settings = store.Settings()
	}
	return &fixture{
		store:   store,
		clock:   clk,
		manager: NewManager(store, lock.NewLocal(), opts, zerolog.Nop()),
	}
}

func (f *fixture) seed(t *testing.T, a model.Attempt) *model.Attempt {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &a))
	return &a
}

func TestDecide(t *testing.T) {
	d := Decide(nil, 7)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Equal(t, 1, d.Attempt.AttemptNumber)
	assert.EqualValues(t, 7, d.Attempt.TaskID)
	assert.Equal(t, model.AttemptStateAbInitio, d.Attempt.State)
	assert.Equal(t, DefaultAttemptName, d.Attempt.Name)

	done := &model.Attempt{ID: 4, AttemptNumber: 3, State: model.AttemptStateCompleted}
	d = Decide(done, 7)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Equal(t, 4, d.Attempt.AttemptNumber)
	assert.Zero(t, d.Attempt.ID)

	open := &model.Attempt{ID: 5, AttemptNumber: 2, State: model.AttemptStateAbInitio}
	d = Decide(open, 7)
	assert.Equal(t, ActionResume, d.Action)
	assert.EqualValues(t, 5, d.Attempt.ID)
	assert.Equal(t, model.AttemptStateResume, d.Attempt.State)
	assert.Equal(t, model.AttemptStateAbInitio, open.State, "input must not be mutated")
}

func TestResolveCurrentCreatesFirstAttempt(t *testing.T) {
	f := newFixture(Options{})

	a, err := f.manager.ResolveCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Count())
	assert.Equal(t, 1, a.AttemptNumber)
	assert.Equal(t, model.CmiEntryAbInitio, a.State.CmiEntry())
	assert.False(t, a.State.Completed())
	assert.False(t, a.PassStatus)
	assert.True(t, a.ExamData.IsEmpty())
}

func TestResolveCurrentAfterCompletedCreatesNext(t *testing.T) {
	f := newFixture(Options{})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateCompleted})

	a, err := f.manager.ResolveCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.ID)
	assert.Equal(t, 2, a.AttemptNumber)
	assert.Equal(t, model.CmiEntryAbInitio, a.State.CmiEntry())
	assert.False(t, a.State.Completed())
	assert.Equal(t, 2, f.store.Count())
}

func TestResolveCurrentResumesIncomplete(t *testing.T) {
	f := newFixture(Options{})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateAbInitio})

	a, err := f.manager.ResolveCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.ID)
	assert.Equal(t, model.CmiEntryResume, a.State.CmiEntry())
	assert.Equal(t, 1, f.store.Count())

	stored, err := f.store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateResume, stored.State)

	again, err := f.manager.ResolveCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	assert.Equal(t, 1, f.store.Count())
}

func TestResolveCurrentGlobalScopeFollowsLatestOfAnyTask(t *testing.T) {
	f := newFixture(Options{Scope: ScopeGlobal})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateAbInitio})

	a, err := f.manager.ResolveCurrent(context.Background(), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.TaskID)
	assert.Equal(t, 1, f.store.Count())
}

func TestResolveCurrentTaskScopeIsolatesTasks(t *testing.T) {
	f := newFixture(Options{Scope: ScopeTask})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 3, State: model.AttemptStateCompleted})
	f.seed(t, model.Attempt{TaskID: 2, AttemptNumber: 1, State: model.AttemptStateAbInitio})

	a, err := f.manager.ResolveCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.TaskID)
	assert.Equal(t, 4, a.AttemptNumber)
	assert.Equal(t, model.AttemptStateAbInitio, a.State)

	b, err := f.manager.ResolveCurrent(context.Background(), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.ID)
	assert.Equal(t, model.AttemptStateResume, b.State)
}

func TestResolveCurrentConcurrentCallsCreateOnce(t *testing.T) {
	f := newFixture(Options{Scope: ScopeTask})

	var wg sync.WaitGroup
	ids := make(chan int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.manager.ResolveCurrent(context.Background(), 1)
			if assert.NoError(t, err) {
				ids <- a.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	assert.Equal(t, 1, f.store.Count())
	for id := range ids {
		assert.EqualValues(t, 1, id)
	}
}

func TestResolveCurrentTaskWithoutTest(t *testing.T) {
	f := newFixture(Options{})
	require.NoError(t, f.store.Settings().Upsert(context.Background(), &model.TaskTestSettings{TaskID: 1, HasTest: false}))

	_, err := f.manager.ResolveCurrent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTaskHasNoTest)
	assert.Zero(t, f.store.Count())
}

func TestResolveCurrentRestartDelay(t *testing.T) {
	f := newFixture(Options{Scope: ScopeTask})
	ctx := context.Background()
	delay := 30
	require.NoError(t, f.store.Settings().Upsert(ctx, &model.TaskTestSettings{
		TaskID: 1, HasTest: true, RestrictAttempts: true, DelayRestartMinutes: &delay,
	}))

	finished := f.clock.Now()
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateCompleted, AttemptedAt: &finished})

	f.clock.Add(10 * time.Minute)
	_, err := f.manager.ResolveCurrent(ctx, 1)
	require.ErrorIs(t, err, ErrRetakeTooSoon)
	assert.Contains(t, err.Error(), "20m0s")
	assert.Equal(t, 1, f.store.Count())

	f.clock.Add(20 * time.Minute)
	a, err := f.manager.ResolveCurrent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.AttemptNumber)
}

func TestResolveCurrentRestartDelayDoesNotBlockResume(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	delay := 60
	require.NoError(t, f.store.Settings().Upsert(ctx, &model.TaskTestSettings{
		TaskID: 1, HasTest: true, RestrictAttempts: true, DelayRestartMinutes: &delay,
	}))
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateAbInitio})

	a, err := f.manager.ResolveCurrent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateResume, a.State)
}

type failingSettings struct{}

func (failingSettings) Get(context.Context, int64) (*model.TaskTestSettings, error) {
	return nil, errors.New("connection reset")
}

func TestResolveCurrentSettingsFailure(t *testing.T) {
	f := newFixture(Options{Settings: failingSettings{}})
	_, err := f.manager.ResolveCurrent(context.Background(), 1)
	assert.ErrorContains(t, err, "connection reset")
}

func TestResolveLatestCompleted(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	_, err := f.manager.ResolveLatestCompleted(ctx, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateCompleted})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 2, State: model.AttemptStateCompleted})
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 3, State: model.AttemptStateResume})

	_, err = f.manager.ResolveLatestCompleted(ctx, nil)
	require.NoError(t, err)
	a, _ := f.manager.ResolveLatestCompleted(ctx, nil)
	assert.EqualValues(t, 2, a.ID)
}

func TestResolveLatestCompletedTaskScope(t *testing.T) {
	f := newFixture(Options{Scope: ScopeTask})
	ctx := context.Background()
	f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateCompleted})
	f.seed(t, model.Attempt{TaskID: 2, AttemptNumber: 1, State: model.AttemptStateCompleted})

	task := int64(1)
	a, err := f.manager.ResolveLatestCompleted(ctx, &task)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.ID)

	missing := int64(3)
	_, err = f.manager.ResolveLatestCompleted(ctx, &missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttachExamDataRoundTrip(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	orig := f.seed(t, model.Attempt{TaskID: 1, Name: "n", AttemptNumber: 1, State: model.AttemptStateResume})

	a, err := f.manager.AttachExamData(ctx, orig.ID, []byte(`{"q1":"a"}`))
	require.NoError(t, err)

	stored, err := f.store.GetByID(ctx, orig.ID)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stored.ExamData.String()), &doc))
	assert.Equal(t, map[string]interface{}{"q1": "a"}, doc)

	assert.Equal(t, orig.Name, a.Name)
	assert.Equal(t, orig.State, a.State)
	assert.Equal(t, orig.AttemptNumber, a.AttemptNumber)
}

func TestAttachExamDataErrors(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	a := f.seed(t, model.Attempt{TaskID: 1, AttemptNumber: 1, State: model.AttemptStateAbInitio})

	_, err := f.manager.AttachExamData(ctx, a.ID, []byte(`{"q1":`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = f.manager.AttachExamData(ctx, 999, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(repository.NewMemoryStore(), lock.NewLocal(), Options{Scope: "bogus"}, zerolog.Nop())
	assert.Equal(t, ScopeGlobal, m.Scope())
	assert.Equal(t, model.OrderBySeq, m.orderBy)
	assert.Nil(t, m.settings)
	assert.Equal(t, "savetest:resolve_lock:global", m.lockKey(5))

	m = NewManager(repository.NewMemoryStore(), lock.NewLocal(), Options{Scope: ScopeTask}, zerolog.Nop())
	assert.Equal(t, "savetest:resolve_lock:task:5", m.lockKey(5))
}

// completingStore completes the attempt it is asked to resume on the first
// call, the way a concurrent submit landing between Latest and SetState would.
type completingStore struct {
	*repository.MemoryStore
	raced bool
}

func (s *completingStore) SetState(ctx context.Context, id int64, state model.AttemptState) error {
	if !s.raced {
		s.raced = true
		a, err := s.MemoryStore.GetByID(ctx, id)
		if err != nil {
			return err
		}
		a.State = model.AttemptStateCompleted
		if err := s.MemoryStore.Update(ctx, a); err != nil {
			return err
		}
	}
	return s.MemoryStore.SetState(ctx, id, state)
}

func TestResolveCurrentRereadsWhenLatestCompletesMidway(t *testing.T) {
	clk := clock.NewMock()
	mem := repository.NewMemoryStoreWithClock(clk)
	store := &completingStore{MemoryStore: mem}
	m := NewManager(store, lock.NewLocal(), Options{Clock: clk}, zerolog.Nop())
	ctx := context.Background()

	open := &model.Attempt{TaskID: 1, Name: "n", AttemptNumber: 1, State: model.AttemptStateAbInitio}
	require.NoError(t, mem.Create(ctx, open))

	got, err := m.ResolveCurrent(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, open.ID, got.ID)
	assert.Equal(t, 2, got.AttemptNumber)
	assert.Equal(t, model.AttemptStateAbInitio, got.State)
}

func TestExclusiveSharesResolutionLock(t *testing.T) {
	f := newFixture(Options{Scope: ScopeTask})
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.manager.Exclusive(ctx, func(context.Context) error {
			close(held)
			<-release
			return nil
		}, 1)
	}()
	<-held

	resolved := make(chan error, 1)
	go func() {
		_, err := f.manager.ResolveCurrent(ctx, 1)
		resolved <- err
	}()
	select {
	case <-resolved:
		t.Fatal("resolution ran while the task was held")
	case <-time.After(50 * time.Millisecond):
	}

	// Other tasks are unaffected under task scope.
	_, err := f.manager.ResolveCurrent(ctx, 2)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-resolved)
}

func TestExclusiveDedupesKeys(t *testing.T) {
	f := newFixture(Options{})
	called := false
	err := f.manager.Exclusive(context.Background(), func(context.Context) error {
		called = true
		return nil
	}, 1, 2, 1)
	require.NoError(t, err)
	assert.True(t, called)
}
