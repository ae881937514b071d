package dto

import (
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

// JobAvailableMessage wakes processing workers after an enqueue. The
// durable job row in postgres is authoritative; the message only cuts
// polling latency, so losing one is harmless.
type JobAvailableMessage struct {
	VideoID uuid.UUID        `json:"videoId"`
	JobType constant.JobType `json:"jobType"`
}

// VideoReadyEvent announces that every processing job of a video
// succeeded and the video can be published.
type VideoReadyEvent struct {
	VideoID     uuid.UUID `json:"videoId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	PlaybackURL *string   `json:"playbackUrl"`
	DurationSec *int      `json:"durationSec"`
}

// PublishedEvent notifies the search/discovery index that a video
// became discoverable.
type PublishedEvent struct {
	VideoID     uuid.UUID           `json:"videoId"`
	OwnerID     uuid.UUID           `json:"ownerId"`
	Title       string              `json:"title"`
	Tags        []string            `json:"tags"`
	Visibility  constant.Visibility `json:"visibility"`
	PublishedAt time.Time           `json:"publishedAt"`
}
