// Package jobs runs scheduled background work
package jobs

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// CronJob is a unit of work run on a cron schedule
type CronJob interface {
	Name() string
	Schedule() string
	Run()
}

// Runner runs cron jobs, skipping a tick while the previous run of the same job is still going
type Runner struct {
	cron    *cron.Cron
	jobs    []CronJob
	running mapset.Set[string]
	mu      sync.Mutex
	log     logrus.FieldLogger
}

// NewRunner creates a runner for jobs
func NewRunner(log logrus.FieldLogger, jobs ...CronJob) *Runner {
	return &Runner{
		cron:    cron.New(),
		jobs:    jobs,
		running: mapset.NewThreadUnsafeSet[string](),
		log:     log.WithField("component", "jobs"),
	}
}

// ParseSchedule parses a standard five-field cron spec (minute hour day-of-month month
// day-of-week) or a descriptor such as "@daily" or "@every 6h"
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}

// Start schedules every job and starts the cron in its own goroutine
func (r *Runner) Start() error {
	for _, job := range r.jobs {
		schedule, err := ParseSchedule(job.Schedule())
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name(), job.Schedule(), err)
		}
		r.cron.Schedule(schedule, cron.FuncJob(func() { r.runOnce(job) }))
		r.log.WithFields(logrus.Fields{"job": job.Name(), "schedule": job.Schedule()}).Info("Scheduled job")
	}

	r.cron.Start()
	return nil
}

// Stop stops scheduling; running jobs are not interrupted
func (r *Runner) Stop() {
	r.log.Info("Stopping scheduled jobs")
	r.cron.Stop()
}

func (r *Runner) runOnce(job CronJob) {
	r.mu.Lock()
	if r.running.Contains(job.Name()) {
		r.mu.Unlock()
		r.log.WithField("job", job.Name()).Warn("Job is still running, skipping tick")
		return
	}
	r.running.Add(job.Name())
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.running.Remove(job.Name())
	}()

	job.Run()
}
