package entities

import (
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

// StatusRecord is the externally observable summary of a video's
// processing lifecycle, polled by clients through the gateway.
type StatusRecord struct {
	VideoID   uuid.UUID            `json:"video_id" gorm:"type:uuid;primary_key"`
	Status    constant.VideoStatus `json:"status" gorm:"type:varchar(20);not null"`
	Progress  int                  `json:"progress" gorm:"type:integer;not null;default:0"`
	Attempt   int                  `json:"attempt" gorm:"type:integer;not null;default:0"`
	Error     *string              `json:"error" gorm:"type:text"`
	UpdatedAt time.Time            `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (StatusRecord) TableName() string {
	return "status_records"
}
