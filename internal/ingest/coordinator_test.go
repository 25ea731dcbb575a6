package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/helpdesk-search/internal/lock"
)

func TestCoordinator_Run(t *testing.T) {
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{})
	c := NewCoordinator(p, lock.NewLocal(), time.Minute, p.log)

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	status := c.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.Result)
	assert.Equal(t, 2, status.Result.Inserted)
	assert.NotNil(t, status.FinishedAt)
	assert.Empty(t, status.Error)
}

func TestCoordinator_RefusesWhileLocked(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{})
	locker := lock.NewLocal()
	c := NewCoordinator(p, locker, time.Minute, p.log)

	release, err := locker.TryLock(ctx, lock.Maintenance, time.Minute)
	require.NoError(t, err)

	_, err = c.Run(ctx)
	assert.True(t, IsLocked(err))
	assert.ErrorIs(t, c.Start(ctx), lock.ErrLocked)

	release()
	_, err = c.Run(ctx)
	assert.NoError(t, err)
}

func TestCoordinator_Start(t *testing.T) {
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{})
	c := NewCoordinator(p, lock.NewLocal(), time.Minute, p.log)

	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		s := c.Status()
		return !s.Running && s.Result != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, c.Status().Result.DocumentsProcessed)

	// the lock is released when the background run ends
	_, err := c.Run(context.Background())
	assert.NoError(t, err)
}

func TestCoordinator_RecordsFatalError(t *testing.T) {
	site := twoCategorySite()
	site.Fail("/", -1)
	p := newPipeline(t, site, newStore(t), Options{})
	c := NewCoordinator(p, lock.NewLocal(), time.Minute, p.log)

	_, err := c.Run(context.Background())
	require.Error(t, err)

	status := c.Status()
	assert.False(t, status.Running)
	assert.Contains(t, status.Error, "fetch category tree")
}

func TestCoordinator_LockHeldForWholeRun(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{Scheduler: Sequential{Delay: 600 * time.Millisecond}})
	locker := lock.NewLocal()
	c := NewCoordinator(p, locker, 200*time.Millisecond, p.log)

	require.NoError(t, c.Start(ctx))
	time.Sleep(350 * time.Millisecond)

	require.True(t, c.Status().Running)
	_, err := locker.TryLock(ctx, lock.Maintenance, time.Minute)
	assert.ErrorIs(t, err, lock.ErrLocked)

	require.Eventually(t, func() bool { return !c.Status().Running }, 5*time.Second, 10*time.Millisecond)
	release, err := locker.TryLock(ctx, lock.Maintenance, time.Minute)
	require.NoError(t, err)
	release()
}
