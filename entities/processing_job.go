package entities

import (
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

type ProcessingJob struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	VideoID      uuid.UUID         `json:"video_id" gorm:"type:uuid;not null;uniqueIndex:unique_video_job_type"`
	JobType      constant.JobType  `json:"job_type" gorm:"type:varchar(20);not null;uniqueIndex:unique_video_job_type"`
	State        constant.JobState `json:"state" gorm:"type:varchar(20);not null;index:idx_processing_jobs_state"`
	Attempts     int               `json:"attempts" gorm:"type:integer;not null;default:0"`
	LastError    *string           `json:"last_error" gorm:"type:text"`
	LeaseOwner   *string           `json:"lease_owner" gorm:"type:varchar(100)"`
	LeaseExpires *time.Time        `json:"lease_expires" gorm:"type:timestamptz;index:idx_processing_jobs_lease_expires"`
	NextAttempt  *time.Time        `json:"next_attempt" gorm:"type:timestamptz"`
	EnqueuedAt   time.Time         `json:"enqueued_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

func (j *ProcessingJob) LeaseExpired(now time.Time) bool {
	return j.LeaseExpires != nil && now.After(*j.LeaseExpires)
}
