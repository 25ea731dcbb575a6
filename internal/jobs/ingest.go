package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/ingest"
)

// IngestJob re-ingests the upstream help center on a schedule
type IngestJob struct {
	coordinator *ingest.Coordinator
	schedule    string
	timeout     time.Duration
	log         logrus.FieldLogger
}

// NewIngestJob creates a scheduled ingestion; timeout <= 0 means no timeout
func NewIngestJob(coordinator *ingest.Coordinator, schedule string, timeout time.Duration, log logrus.FieldLogger) *IngestJob {
	return &IngestJob{coordinator: coordinator, schedule: schedule, timeout: timeout, log: log}
}

func (j *IngestJob) Name() string {
	return "ingest"
}

func (j *IngestJob) Schedule() string {
	return j.schedule
}

func (j *IngestJob) Run() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	result, err := j.coordinator.Run(ctx)
	switch {
	case ingest.IsLocked(err):
		j.log.Info("Maintenance in progress, skipping scheduled ingestion")
	case err != nil:
		j.log.WithError(err).Error("Scheduled ingestion failed")
	default:
		j.log.WithFields(logrus.Fields{
			"processed": result.DocumentsProcessed,
			"errors":    len(result.Errors),
		}).Info("Scheduled ingestion finished")
	}
}
