package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDailySnapshot is the task type for the end-of-day summary snapshot.
	TaskDailySnapshot = "summary:daily_snapshot"
)

// DailySnapshotPayload pins the snapshot to a calendar day. An empty Day means
// "the day the task runs", which is what the cron schedule enqueues.
type DailySnapshotPayload struct {
	Day string `json:"day,omitempty"`
}

// NewDailySnapshotTask constructs an Asynq task for the snapshot job.
func NewDailySnapshotTask(day time.Time) (*asynq.Task, error) {
	payload := DailySnapshotPayload{}
	if !day.IsZero() {
		payload.Day = day.Format("2006-01-02")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDailySnapshot, data), nil
}
