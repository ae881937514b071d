package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error

	CreateVideo(ctx context.Context, video *entities.Video) error
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	SaveVideo(ctx context.Context, video *entities.Video) error
	UpdateVideoFields(ctx context.Context, id uuid.UUID, fields map[string]any) error

	CreateUploadSession(ctx context.Context, session *entities.UploadSession) error
	FindUploadSessionById(ctx context.Context, id uuid.UUID) (*entities.UploadSession, error)
	SaveUploadSession(ctx context.Context, session *entities.UploadSession) error
	DeleteUploadSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredUploadSessions(ctx context.Context, now time.Time) (int64, error)

	CreateJob(ctx context.Context, job *entities.ProcessingJob) (created bool, err error)
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error)
	FindJobsByVideoId(ctx context.Context, videoID uuid.UUID) ([]*entities.ProcessingJob, error)
	SaveJob(ctx context.Context, job *entities.ProcessingJob) error
	ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entities.ProcessingJob, error)
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	GetStatusRecord(ctx context.Context, videoID uuid.UUID) (*entities.StatusRecord, error)
	SaveStatusRecord(ctx context.Context, record *entities.StatusRecord) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) CreateVideo(ctx context.Context, video *entities.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.db.WithContext(ctx).First(video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) SaveVideo(ctx context.Context, video *entities.Video) error {
	video.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(video).Error
}

// UpdateVideoFields writes only the named columns. Concurrent writers
// of the same row (sibling job types, status sync) must use this
// instead of SaveVideo so they cannot overwrite each other's fields.
func (r *repo) UpdateVideoFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&entities.Video{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) CreateUploadSession(ctx context.Context, session *entities.UploadSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindUploadSessionById(ctx context.Context, id uuid.UUID) (*entities.UploadSession, error) {
	session := &entities.UploadSession{}
	err := r.db.WithContext(ctx).First(session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repo) SaveUploadSession(ctx context.Context, session *entities.UploadSession) error {
	session.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *repo) DeleteUploadSession(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&entities.UploadSession{}, "id = ?", id).Error
}

func (r *repo) DeleteExpiredUploadSessions(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&entities.UploadSession{}, "expires_at < ?", now)
	return result.RowsAffected, result.Error
}

// CreateJob inserts the job unless one already exists for the same
// (video, job type). Returns whether a new row was created.
func (r *repo) CreateJob(ctx context.Context, job *entities.ProcessingJob) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "job_type"}},
		DoNothing: true,
	}).Create(job)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error) {
	job := &entities.ProcessingJob{}
	err := r.db.WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) FindJobsByVideoId(ctx context.Context, videoID uuid.UUID) ([]*entities.ProcessingJob, error) {
	var jobs []*entities.ProcessingJob
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("enqueued_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) SaveJob(ctx context.Context, job *entities.ProcessingJob) error {
	job.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(job).Error
}

// ClaimNextJob hands out the oldest pending job under an exclusive
// lease. SKIP LOCKED keeps concurrent workers from blocking on the
// same row.
func (r *repo) ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entities.ProcessingJob, error) {
	job := &entities.ProcessingJob{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND (next_attempt IS NULL OR next_attempt <= ?)", constant.JobStatePending, now).
			Order("enqueued_at ASC").
			First(job).Error
		if err != nil {
			return err
		}
		job.State = constant.JobStateRunning
		job.LeaseOwner = &workerID
		job.LeaseExpires = &leaseUntil
		job.UpdatedAt = time.Now()
		return tx.Save(job).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ReleaseExpiredLeases returns running jobs whose lease lapsed to
// pending so they become eligible for redelivery.
func (r *repo) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.ProcessingJob{}).
		Where("state = ? AND lease_expires < ?", constant.JobStateRunning, now).
		Updates(map[string]interface{}{
			"state":         constant.JobStatePending,
			"lease_owner":   nil,
			"lease_expires": nil,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

func (r *repo) GetStatusRecord(ctx context.Context, videoID uuid.UUID) (*entities.StatusRecord, error) {
	record := &entities.StatusRecord{}
	err := r.db.WithContext(ctx).First(record, "video_id = ?", videoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *repo) SaveStatusRecord(ctx context.Context, record *entities.StatusRecord) error {
	record.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(record).Error
}
