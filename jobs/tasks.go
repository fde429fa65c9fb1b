package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProformaExpiry sweeps pending pro-formas past their validity date.
	TaskProformaExpiry = "billing:proforma_expiry"
)

// ProformaExpirer is the slice of the billing service the sweep task needs.
type ProformaExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// ProformaExpiryPayload carries sweep metadata for observability.
type ProformaExpiryPayload struct {
	SweepID     string    `json:"sweep_id"`
	RequestedAt time.Time `json:"requested_at"`
	Trigger     string    `json:"trigger"`
}

// NewProformaExpiryTask constructs an Asynq task for the expiry sweep.
func NewProformaExpiryTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(ProformaExpiryPayload{
		SweepID:     uuid.NewString(),
		RequestedAt: time.Now().UTC(),
		Trigger:     trigger,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProformaExpiry, data), nil
}

// NewProformaExpiryHandler returns the handler processing TaskProformaExpiry.
func NewProformaExpiryHandler(logger *slog.Logger, expirer ProformaExpirer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ProformaExpiryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		count, err := expirer.ExpireStale(ctx)
		if err != nil {
			logger.Error("proforma expiry sweep failed", slog.Any("error", err))
			return err
		}
		logger.Info("proforma expiry sweep done",
			slog.Int64("expired", count),
			slog.String("sweep_id", payload.SweepID),
			slog.String("trigger", payload.Trigger))
		return nil
	}
}
