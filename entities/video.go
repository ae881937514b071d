package entities

import (
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

type Video struct {
	ID          uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID     uuid.UUID            `json:"owner_id" gorm:"type:uuid;not null;index:idx_videos_owner_id"`
	Title       string               `json:"title" gorm:"type:varchar(200);not null"`
	Description *string              `json:"description" gorm:"type:text"`
	Tags        []string             `json:"tags" gorm:"type:text[];serializer:json"`
	Visibility  constant.Visibility  `json:"visibility" gorm:"type:varchar(20);not null;default:'private'"`
	Status      constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_videos_status"`
	DurationSec *int                 `json:"duration_sec" gorm:"type:integer"`
	ObjectPath  *string              `json:"object_path" gorm:"type:varchar(500)"`
	PlaybackURL *string              `json:"playback_url" gorm:"type:varchar(500)"`
	PublishedAt *time.Time           `json:"published_at" gorm:"type:timestamptz"`
	CreatedAt   time.Time            `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time            `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Video) TableName() string {
	return "videos"
}
