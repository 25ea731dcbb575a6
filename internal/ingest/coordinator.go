package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/lock"
)

// Status is the state of the last ingestion run
type Status struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Coordinator runs ingestion under the maintenance lock and remembers the last outcome
type Coordinator struct {
	pipeline *Pipeline
	locker   lock.Locker
	ttl      time.Duration
	log      logrus.FieldLogger

	mu     sync.Mutex
	status Status
}

// NewCoordinator creates a coordinator; ttl bounds how long a crashed holder keeps the lock
func NewCoordinator(pipeline *Pipeline, locker lock.Locker, ttl time.Duration, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{pipeline: pipeline, locker: locker, ttl: ttl, log: log.WithField("component", "ingest")}
}

// Run ingests synchronously. It returns lock.ErrLocked if a migration or ingestion is running.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	release, err := c.locker.TryLock(ctx, lock.Maintenance, c.ttl)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.run(ctx)
}

// Start ingests in the background. The returned error is lock.ErrLocked or a lock failure;
// the outcome of the run is reported by Status.
func (c *Coordinator) Start(ctx context.Context) error {
	release, err := c.locker.TryLock(ctx, lock.Maintenance, c.ttl)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.status.Running = true
	c.mu.Unlock()

	go func() {
		defer release()
		if _, err := c.run(context.WithoutCancel(ctx)); err != nil {
			c.log.WithError(err).Error("Background ingestion failed")
		}
	}()
	return nil
}

// Status returns the state of the last run
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) run(ctx context.Context) (*Result, error) {
	started := time.Now().UTC()
	c.mu.Lock()
	c.status = Status{Running: true, StartedAt: &started, Result: c.status.Result}
	c.mu.Unlock()

	result, err := c.pipeline.Run(ctx)

	finished := time.Now().UTC()
	c.mu.Lock()
	c.status.Running = false
	c.status.FinishedAt = &finished
	c.status.Result = result
	if err != nil {
		c.status.Error = err.Error()
	}
	c.mu.Unlock()

	if err != nil {
		return result, fmt.Errorf("ingest: %w", err)
	}
	return result, nil
}

// IsLocked reports whether err means another exclusive operation is running
func IsLocked(err error) bool {
	return errors.Is(err, lock.ErrLocked)
}
