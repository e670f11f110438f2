package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/timberline-erp/timberline/internal/jobs"
	"github.com/timberline-erp/timberline/internal/shared"
	"github.com/timberline-erp/timberline/internal/summary"
)

// SnapshotService captures the summary behaviour the job needs.
type SnapshotService interface {
	TakeSnapshot(ctx context.Context, day time.Time) (summary.Snapshot, error)
}

// DailySnapshotJob persists the end-of-day summary snapshot.
type DailySnapshotJob struct {
	Service SnapshotService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDailySnapshotJob constructs the job handler.
func NewDailySnapshotJob(service SnapshotService, logger *slog.Logger, metrics *jobmetrics.Metrics) *DailySnapshotJob {
	return &DailySnapshotJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskDailySnapshot tasks. A snapshot that already exists for
// the day is a clean skip, not a failure: cron retriggers and manual runs must
// not duplicate or overwrite the stored report.
func (j *DailySnapshotJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DailySnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	day := j.clock()
	if payload.Day != "" {
		parsed, err := time.Parse("2006-01-02", payload.Day)
		if err != nil {
			j.Logger.Warn("snapshot payload has invalid day", slog.String("day", payload.Day))
			return asynq.SkipRetry
		}
		day = parsed
	}

	tracker := j.Metrics.Track("daily_snapshot")
	snap, err := j.Service.TakeSnapshot(ctx, day)
	if errors.Is(err, shared.ErrDuplicateOperation) {
		j.Metrics.AddSkipped("daily_snapshot")
		j.Logger.Info("snapshot already taken", slog.String("day", day.Format("2006-01-02")))
		return tracker.End(nil)
	}
	if err != nil {
		j.Logger.Error("take snapshot", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("snapshot stored",
		slog.String("day", snap.Day.Format("2006-01-02")),
		slog.Int64("units_reserved", snap.Totals.UnitsReserved),
		slog.Int64("units_delivered", snap.Totals.UnitsDelivered),
	)
	return tracker.End(nil)
}
