package handler

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"mytube-pipeline/dto"
	"mytube-pipeline/service"
)

type ServiceDependencies struct {
	Orchestrator *service.Orchestrator
}

// JobAvailableHandler wakes the orchestrator when the upload side
// enqueues work. The job row itself is claimed from postgres, so the
// message body is only logged.
func JobAvailableHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var wakeup dto.JobAvailableMessage
	if err := json.Unmarshal(msg.Body, &wakeup); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job wake-up")
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Str("video_id", wakeup.VideoID.String()).
		Str("job_type", wakeup.JobType.String()).
		Msg("job wake-up received")

	deps.Orchestrator.Kick()
	return nil
}
