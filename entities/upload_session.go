package entities

import (
	"time"

	"github.com/google/uuid"
)

// ByteRange is a half-open range [Offset, Offset+Length) of received bytes.
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

func (r ByteRange) End() int64 {
	return r.Offset + r.Length
}

type UploadSession struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	VideoID      uuid.UUID   `json:"video_id" gorm:"type:uuid;not null;index:idx_upload_sessions_video_id"`
	OwnerID      uuid.UUID   `json:"owner_id" gorm:"type:uuid;not null"`
	Filename     string      `json:"filename" gorm:"type:varchar(255);not null"`
	ContentType  string      `json:"content_type" gorm:"type:varchar(100);not null"`
	DeclaredSize int64       `json:"declared_size" gorm:"type:bigint;not null"`
	Checksum     *string     `json:"checksum" gorm:"type:varchar(64)"`
	Received     []ByteRange `json:"received" gorm:"type:jsonb;serializer:json"`
	ExpiresAt    time.Time   `json:"expires_at" gorm:"type:timestamptz;not null;index:idx_upload_sessions_expires_at"`
	CreatedAt    time.Time   `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time   `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (UploadSession) TableName() string {
	return "upload_sessions"
}

func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ReceivedBytes sums the lengths of all received ranges. Ranges never
// overlap, so the sum equals the covered byte count.
func (s *UploadSession) ReceivedBytes() int64 {
	var total int64
	for _, r := range s.Received {
		total += r.Length
	}
	return total
}
