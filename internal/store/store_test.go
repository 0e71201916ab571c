package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"keyvex/internal/tcc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTCC(jobID string) *tcc.Context {
	return tcc.New(jobID, "user-1", tcc.UserInput{Description: "A loan calculator", ToolType: "calculator"})
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type brokenMirror struct{}

func (brokenMirror) Name() string { return "broken" }
func (brokenMirror) Put(context.Context, *tcc.Context) error {
	return errors.New("disk on fire")
}
func (brokenMirror) Load(context.Context, string) (*tcc.Context, error) {
	return nil, errors.New("disk on fire")
}
func (brokenMirror) Remove(context.Context, string) error { return errors.New("disk on fire") }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := newTCC("job-1")
	require.NoError(t, s.Create(ctx, in))
	assert.Equal(t, 1, in.TCCVersion)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, 1, got.TCCVersion)
	assert.False(t, got.UpdatedAt.IsZero())

	err = s.Create(ctx, newTCC("job-1"))
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newTCC("job-1")))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	got.AssembledComponentCode = "mutated"
	got.Steps[tcc.StepPlanFunctions].Status = tcc.StepDone

	again, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, again.AssembledComponentCode)
	assert.Equal(t, tcc.StepPending, again.Steps[tcc.StepPlanFunctions].Status)
}

func TestWriteRejectsInvalidContext(t *testing.T) {
	ctx := context.Background()
	s := New()

	bad := newTCC("job-1")
	bad.Status = "sleeping"
	assert.Error(t, s.Create(ctx, bad))

	_, err := s.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(ctx, newTCC("job-1")))
	_, err = s.Update(ctx, "job-1", func(c *tcc.Context) error {
		c.CurrentOrchestrationStep = "daydreaming"
		return nil
	})
	assert.Error(t, err)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, tcc.StepInitialization, got.CurrentOrchestrationStep)
	assert.Equal(t, 1, got.TCCVersion)
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := newTCC("job-1")
	require.NoError(t, s.Create(ctx, c))

	c.AssembledComponentCode = "function Tool() { return null; }"
	require.NoError(t, s.Save(ctx, c))
	assert.Equal(t, 2, c.TCCVersion)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, c.AssembledComponentCode, got.AssembledComponentCode)

	assert.Error(t, s.Save(ctx, nil))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newTCC("job-1")))

	updated, err := s.Update(ctx, "job-1", func(c *tcc.Context) error {
		c.MarkStep(tcc.StepPlanFunctions, tcc.StepInProgress, nil)
		c.JobID = "someone-else"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", updated.JobID)
	assert.Equal(t, tcc.StatusInProgress, updated.Status)
	assert.Equal(t, 2, updated.TCCVersion)

	_, err = s.Update(ctx, "job-1", func(c *tcc.Context) error {
		c.AssembledComponentCode = "never stored"
		return fmt.Errorf("agent refused")
	})
	assert.EqualError(t, err, "agent refused")

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, got.AssembledComponentCode)
	assert.Equal(t, 2, got.TCCVersion)

	_, err = s.Update(ctx, "missing", func(*tcc.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newTCC("job-1")))

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "job-1", func(c *tcc.Context) error {
				c.AppendLog(fmt.Sprintf("agent-%d", i), "completed", "done")
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, got.ProgressLog, writers)
	assert.Equal(t, writers+1, got.TCCVersion)
	assert.Empty(t, s.locks.locks, "job locks should be released")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	fm, err := NewFileMirror(t.TempDir())
	require.NoError(t, err)
	s := New(fm)
	require.NoError(t, s.Create(ctx, newTCC("job-1")))

	require.NoError(t, s.Delete(ctx, "job-1"))
	_, err = s.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fm.Load(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "job-1"))
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.now = tickingClock()

	for _, id := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, s.Create(ctx, newTCC(id)))
	}
	_, err := s.Update(ctx, "job-a", func(c *tcc.Context) error {
		c.Complete()
		return nil
	})
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "job-a", list[0].JobID)
	assert.Equal(t, "job-c", list[1].JobID)
	assert.Equal(t, "job-b", list[2].JobID)
	assert.Equal(t, 100, list[0].Progress)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"completed": 1, "pending": 2}, counts)
}

func TestMirrorRewarmsMemory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fm, err := NewFileMirror(dir)
	require.NoError(t, err)
	first := New(fm)
	require.NoError(t, first.Create(ctx, newTCC("job-1")))
	_, err = first.Update(ctx, "job-1", func(c *tcc.Context) error {
		c.SelectedModel = "gpt-4o"
		return nil
	})
	require.NoError(t, err)

	fm2, err := NewFileMirror(dir)
	require.NoError(t, err)
	restarted := New(fm2)

	list, err := restarted.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Version)

	got, err := restarted.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.SelectedModel)

	assert.ErrorIs(t, restarted.Create(ctx, newTCC("job-1")), ErrExists)
}

func TestBrokenMirrorDoesNotFailWrites(t *testing.T) {
	ctx := context.Background()
	s := New(brokenMirror{})

	require.NoError(t, s.Create(ctx, newTCC("job-1")))
	_, err := s.Update(ctx, "job-1", func(c *tcc.Context) error {
		c.MarkStep(tcc.StepPlanFunctions, tcc.StepDone, nil)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, s.Delete(ctx, "job-1"))

	_, err = s.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key should block")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-released
	unlockB()

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
