package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytube-pipeline/constant"
	"mytube-pipeline/dto"
	"mytube-pipeline/entities"
	"mytube-pipeline/pkg/metrics"
	"mytube-pipeline/pkg/rabbitmq"
	"mytube-pipeline/repository"
)

// SearchIndex receives publish events; it is the only consumer that
// makes videos discoverable.
type SearchIndex interface {
	VideoPublished(ctx context.Context, event dto.PublishedEvent) error
}

// PublishGate is the sole authority over video visibility. Only a
// ready video can be published, so unprocessed videos are never
// discoverable.
type PublishGate interface {
	Publish(ctx context.Context, videoID uuid.UUID, visibility constant.Visibility) (*entities.Video, error)
}

type publishGate struct {
	repo  repository.Repository
	index SearchIndex
	now   func() time.Time
}

func NewPublishGate(repo repository.Repository, index SearchIndex) PublishGate {
	return &publishGate{
		repo:  repo,
		index: index,
		now:   time.Now,
	}
}

func (g *publishGate) Publish(ctx context.Context, videoID uuid.UUID, visibility constant.Visibility) (*entities.Video, error) {
	video, err := g.repo.FindVideoById(ctx, videoID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	if video.Status != constant.VideoStatusReady {
		return nil, ErrNotReady
	}

	if video.PublishedAt != nil && video.Visibility == visibility {
		// Publishing twice with the same visibility is a no-op.
		return video, nil
	}

	publishedAt := g.now()
	video.Visibility = visibility
	video.PublishedAt = &publishedAt
	if err := g.repo.SaveVideo(ctx, video); err != nil {
		return nil, err
	}

	event := dto.PublishedEvent{
		VideoID:     video.ID,
		OwnerID:     video.OwnerID,
		Title:       video.Title,
		Tags:        video.Tags,
		Visibility:  visibility,
		PublishedAt: publishedAt,
	}
	if g.index != nil {
		if err := g.index.VideoPublished(ctx, event); err != nil {
			// The video is published either way; the index catches up
			// on its own schedule.
			zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoID.String()).Msg("failed to notify search index")
		}
	}

	metrics.VideosPublished.Inc()
	zerolog.Ctx(ctx).Info().
		Str("video_id", videoID.String()).
		Str("visibility", string(visibility)).
		Msg("video published")
	return video, nil
}

// amqpSearchIndex forwards publish events to the search service over
// the broker.
type amqpSearchIndex struct {
	publisher rabbitmq.Publisher
}

func NewAMQPSearchIndex(publisher rabbitmq.Publisher) SearchIndex {
	return &amqpSearchIndex{publisher: publisher}
}

func (s *amqpSearchIndex) VideoPublished(ctx context.Context, event dto.PublishedEvent) error {
	return s.publisher.Publish(ctx, rabbitmq.PublishExchange, rabbitmq.VideoPublishedKey, event)
}

// amqpCompletionNotifier announces ready videos on the broker so
// downstream consumers (notifications, analytics) learn about finished
// processing without polling the status endpoint.
type amqpCompletionNotifier struct {
	publisher rabbitmq.Publisher
}

func NewAMQPCompletionNotifier(publisher rabbitmq.Publisher) CompletionListener {
	return &amqpCompletionNotifier{publisher: publisher}
}

func (n *amqpCompletionNotifier) VideoReady(ctx context.Context, video *entities.Video) {
	event := dto.VideoReadyEvent{
		VideoID:     video.ID,
		OwnerID:     video.OwnerID,
		PlaybackURL: video.PlaybackURL,
		DurationSec: video.DurationSec,
	}
	if err := n.publisher.Publish(ctx, rabbitmq.PipelineExchange, rabbitmq.VideoReadyKey, event); err != nil {
		// Ready state lives in the status record; the event only cuts
		// latency for listeners, so a lost one is not fatal.
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", video.ID.String()).Msg("failed to publish video ready event")
	}
}
