package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/shared"
	"github.com/timberline-erp/timberline/internal/summary"
)

type stubSnapshotService struct {
	days []time.Time
	err  error
}

func (s *stubSnapshotService) TakeSnapshot(ctx context.Context, day time.Time) (summary.Snapshot, error) {
	s.days = append(s.days, day)
	if s.err != nil {
		return summary.Snapshot{}, s.err
	}
	return summary.Snapshot{ID: 1, Day: day}, nil
}

func TestDailySnapshotJobUsesPayloadDay(t *testing.T) {
	svc := &stubSnapshotService{}
	job := NewDailySnapshotJob(svc, slog.Default(), nil)

	task, err := NewDailySnapshotTask(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, svc.days, 1)
	require.Equal(t, "2026-08-28", svc.days[0].Format("2006-01-02"))
}

func TestDailySnapshotJobDefaultsToToday(t *testing.T) {
	svc := &stubSnapshotService{}
	job := NewDailySnapshotJob(svc, slog.Default(), nil)
	fixed := time.Date(2026, 8, 29, 18, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }

	task, err := NewDailySnapshotTask(time.Time{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, svc.days, 1)
	require.True(t, svc.days[0].Equal(fixed))
}

func TestDailySnapshotJobTreatsDuplicateAsSkip(t *testing.T) {
	svc := &stubSnapshotService{err: shared.ErrDuplicateOperation}
	job := NewDailySnapshotJob(svc, slog.Default(), nil)

	task, err := NewDailySnapshotTask(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
}

func TestDailySnapshotJobRejectsGarbagePayload(t *testing.T) {
	svc := &stubSnapshotService{}
	job := NewDailySnapshotJob(svc, slog.Default(), nil)

	task := asynq.NewTask(TaskDailySnapshot, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, svc.days)
}
