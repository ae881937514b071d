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

// JobQueue is the durable lease queue between upload ingestion and the
// processing workers. Delivery is at-least-once: a lease that expires
// before Ack makes the job eligible for redelivery, so job execution
// must be idempotent.
type JobQueue interface {
	Enqueue(ctx context.Context, videoID uuid.UUID, jobType constant.JobType) error
	Dequeue(ctx context.Context, workerID string, leaseDuration time.Duration) (*entities.ProcessingJob, error)
	Ack(ctx context.Context, jobID uuid.UUID) error
	// Nack requeues the job with backoff, or moves it to abandoned
	// when cause is permanent or attempts are exhausted. The returned
	// job carries the resulting state.
	Nack(ctx context.Context, jobID uuid.UUID, cause error) (*entities.ProcessingJob, error)
	// AbandonVideoJobs abandons every non-terminal job of the video,
	// releasing held leases, and returns the jobs it touched.
	AbandonVideoJobs(ctx context.Context, videoID uuid.UUID, reason string) ([]*entities.ProcessingJob, error)
	ReleaseExpired(ctx context.Context) (int64, error)
}

const (
	retryBaseDelay = 10 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

type jobQueue struct {
	repo        repository.Repository
	publisher   rabbitmq.Publisher
	maxAttempts int
	now         func() time.Time
}

func NewJobQueue(repo repository.Repository, publisher rabbitmq.Publisher, maxAttempts int) JobQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &jobQueue{
		repo:        repo,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (q *jobQueue) Enqueue(ctx context.Context, videoID uuid.UUID, jobType constant.JobType) error {
	job := &entities.ProcessingJob{
		ID:         uuid.New(),
		VideoID:    videoID,
		JobType:    jobType,
		State:      constant.JobStatePending,
		EnqueuedAt: q.now(),
		UpdatedAt:  q.now(),
	}

	created, err := q.repo.CreateJob(ctx, job)
	if err != nil {
		return err
	}
	if !created {
		// One job per (video, type): re-enqueueing is a no-op.
		zerolog.Ctx(ctx).Debug().
			Str("video_id", videoID.String()).
			Str("job_type", jobType.String()).
			Msg("job already enqueued")
		return nil
	}

	if q.publisher != nil {
		msg := dto.JobAvailableMessage{VideoID: videoID, JobType: jobType}
		if err := q.publisher.Publish(ctx, rabbitmq.PipelineExchange, rabbitmq.JobAvailableKey, msg); err != nil {
			// Workers also poll, so a lost wake-up only adds latency.
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish job wake-up")
		}
	}

	return nil
}

func (q *jobQueue) Dequeue(ctx context.Context, workerID string, leaseDuration time.Duration) (*entities.ProcessingJob, error) {
	now := q.now()
	return q.repo.ClaimNextJob(ctx, workerID, now, now.Add(leaseDuration))
}

func (q *jobQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	job, err := q.repo.FindJobById(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != constant.JobStateRunning {
		// Lease expired and the job was already redelivered or
		// finalized elsewhere. Acking a settled job is a no-op.
		return nil
	}

	job.State = constant.JobStateSucceeded
	job.LeaseOwner = nil
	job.LeaseExpires = nil
	metrics.JobsCompleted.WithLabelValues(job.JobType.String(), constant.JobStateSucceeded.String()).Inc()
	return q.repo.SaveJob(ctx, job)
}

func (q *jobQueue) Nack(ctx context.Context, jobID uuid.UUID, cause error) (*entities.ProcessingJob, error) {
	job, err := q.repo.FindJobById(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != constant.JobStateRunning {
		return job, nil
	}

	job.Attempts++
	detail := cause.Error()
	job.LastError = &detail
	job.LeaseOwner = nil
	job.LeaseExpires = nil

	if IsPermanent(cause) || job.Attempts >= q.maxAttempts {
		job.State = constant.JobStateAbandoned
		job.NextAttempt = nil
		metrics.JobsCompleted.WithLabelValues(job.JobType.String(), constant.JobStateAbandoned.String()).Inc()
		zerolog.Ctx(ctx).Error().
			Err(cause).
			Str("job_id", job.ID.String()).
			Str("job_type", job.JobType.String()).
			Int("attempts", job.Attempts).
			Msg("job abandoned")
	} else {
		job.State = constant.JobStatePending
		next := q.now().Add(retryDelay(job.Attempts))
		job.NextAttempt = &next
		metrics.JobRetries.Inc()
		zerolog.Ctx(ctx).Warn().
			Err(cause).
			Str("job_id", job.ID.String()).
			Int("attempts", job.Attempts).
			Time("next_attempt", next).
			Msg("job requeued")
	}

	if err := q.repo.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *jobQueue) AbandonVideoJobs(ctx context.Context, videoID uuid.UUID, reason string) ([]*entities.ProcessingJob, error) {
	jobs, err := q.repo.FindJobsByVideoId(ctx, videoID)
	if err != nil {
		return nil, err
	}

	var touched []*entities.ProcessingJob
	for _, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		job.State = constant.JobStateAbandoned
		job.LastError = &reason
		job.LeaseOwner = nil
		job.LeaseExpires = nil
		job.NextAttempt = nil
		if err := q.repo.SaveJob(ctx, job); err != nil {
			return touched, err
		}
		metrics.JobsCompleted.WithLabelValues(job.JobType.String(), constant.JobStateAbandoned.String()).Inc()
		touched = append(touched, job)
	}
	return touched, nil
}

func (q *jobQueue) ReleaseExpired(ctx context.Context) (int64, error) {
	released, err := q.repo.ReleaseExpiredLeases(ctx, q.now())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		metrics.LeasesExpired.Add(float64(released))
		zerolog.Ctx(ctx).Warn().Int64("count", released).Msg("released expired job leases")
	}
	return released, nil
}

// retryDelay doubles per attempt from retryBaseDelay up to
// retryMaxDelay.
func retryDelay(attempts int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
