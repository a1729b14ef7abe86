package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile triggers the nightly ledger reconciliation sweep.
	TaskLedgerReconcile = "ledger:reconcile"
)

// LedgerReconcilePayload carries scheduling metadata.
type LedgerReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerReconcileTask constructs an Asynq task for ledger reconciliation.
func NewLedgerReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}
