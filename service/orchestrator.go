package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytube-pipeline/config"
	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
	"mytube-pipeline/repository"
)

// CompletionListener is told when every job type of a video has
// succeeded and the video reached ready.
type CompletionListener interface {
	VideoReady(ctx context.Context, video *entities.Video)
}

// Orchestrator drives processing jobs through their state machine:
// pending -> running -> succeeded, or failed -> retry-pending |
// abandoned. Work units run at-least-once; encoders write to fixed
// keys so re-execution after a lease expiry is a no-op.
type Orchestrator struct {
	repo     repository.Repository
	queue    JobQueue
	statuses StatusStore
	encoders EncoderSet
	listener CompletionListener
	cfg      config.Pipeline
	workers  int

	kick chan struct{}
}

func NewOrchestrator(
	repo repository.Repository,
	queue JobQueue,
	statuses StatusStore,
	encoders EncoderSet,
	listener CompletionListener,
	cfg config.Pipeline,
	workers int,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		repo:     repo,
		queue:    queue,
		statuses: statuses,
		encoders: encoders,
		listener: listener,
		cfg:      cfg,
		workers:  workers,
		kick:     make(chan struct{}, 1),
	}
}

// Kick wakes an idle worker without waiting for the poll interval.
func (o *Orchestrator) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, operating the worker pool and the
// lease sweeper.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 1; i <= o.workers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			o.runWorker(ctx, fmt.Sprintf("worker-%d", workerId))
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.runLeaseSweeper(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) runWorker(ctx context.Context, workerID string) {
	for {
		job, err := o.queue.Dequeue(ctx, workerID, o.cfg.LeaseDuration)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("worker_id", workerID).Msg("dequeue failed")
		}
		if job != nil {
			o.processJob(ctx, workerID, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-o.kick:
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) runLeaseSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.LeaseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.queue.ReleaseExpired(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("lease sweep failed")
			}
		}
	}
}

func (o *Orchestrator) processJob(ctx context.Context, workerID string, job *entities.ProcessingJob) {
	log := zerolog.Ctx(ctx).With().
		Str("worker_id", workerID).
		Str("job_id", job.ID.String()).
		Str("job_type", job.JobType.String()).
		Str("video_id", job.VideoID.String()).
		Logger()
	log.Info().Int("attempts", job.Attempts).Msg("processing job")

	video, err := o.repo.FindVideoById(ctx, job.VideoID)
	if err != nil {
		o.failJob(ctx, job, fmt.Errorf("load video: %w", err))
		return
	}
	if video.Status == constant.VideoStatusFailed {
		// Cancelled or failed while this job sat in the queue.
		if _, err := o.queue.AbandonVideoJobs(ctx, video.ID, "video already failed"); err != nil {
			log.Error().Err(err).Msg("failed to abandon sibling jobs")
		}
		return
	}

	processing := constant.VideoStatusProcessing
	delta := StatusDelta{Status: &processing, NewAttempt: job.Attempts > 0}
	if _, err := o.statuses.Update(ctx, video.ID, delta); err != nil && err != ErrInvalidTransition {
		o.failJob(ctx, job, fmt.Errorf("status update: %w", err))
		return
	}

	encoder, ok := o.encoders[job.JobType]
	if !ok {
		o.failJob(ctx, job, Permanent(fmt.Errorf("no encoder for job type %s", job.JobType)))
		return
	}

	result, err := encoder.Run(ctx, video, func(progress int) {
		o.reportProgress(ctx, video.ID, progress)
	})
	if err != nil {
		log.Warn().Err(err).Bool("permanent", IsPermanent(err)).Msg("job execution failed")
		o.failJob(ctx, job, err)
		return
	}

	if err := o.applyResult(ctx, video.ID, job.JobType, result); err != nil {
		o.failJob(ctx, job, err)
		return
	}

	if err := o.queue.Ack(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("failed to ack job")
		return
	}
	log.Info().Msg("job succeeded")

	o.finishVideoIfDone(ctx, video.ID)
}

func (o *Orchestrator) failJob(ctx context.Context, job *entities.ProcessingJob, cause error) {
	settled, err := o.queue.Nack(ctx, job.ID, cause)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to nack job")
		return
	}
	if settled.State != constant.JobStateAbandoned {
		return
	}

	failed := constant.VideoStatusFailed
	detail := cause.Error()
	if _, err := o.statuses.Update(ctx, job.VideoID, StatusDelta{Status: &failed, Error: &detail}); err != nil && err != ErrInvalidTransition {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", job.VideoID.String()).Msg("failed to record terminal failure")
	}
	if _, err := o.queue.AbandonVideoJobs(ctx, job.VideoID, "sibling job abandoned"); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to abandon sibling jobs")
	}
}

// reportProgress folds one job's progress into the video-level record:
// each job type contributes an equal share.
func (o *Orchestrator) reportProgress(ctx context.Context, videoID uuid.UUID, jobProgress int) {
	jobs, err := o.repo.FindJobsByVideoId(ctx, videoID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to load jobs for progress aggregation")
		return
	}
	if len(jobs) == 0 {
		return
	}

	total := 0
	for _, j := range jobs {
		if j.State == constant.JobStateSucceeded {
			total += 100
		}
	}
	total += jobProgress

	overall := total / len(jobs)
	if overall > 100 {
		overall = 100
	}
	if _, err := o.statuses.Update(ctx, videoID, StatusDelta{Progress: &overall}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to report progress")
	}
}

func (o *Orchestrator) applyResult(ctx context.Context, videoID uuid.UUID, jobType constant.JobType, result *EncodeResult) error {
	// Sibling job types of the same video run in parallel and write to
	// the same row; updates must stay field-scoped so one job's result
	// cannot overwrite another's.
	switch jobType {
	case constant.JobTypeTranscode:
		return o.repo.UpdateVideoFields(ctx, videoID, map[string]any{"playback_url": result.PlaybackURL})
	case constant.JobTypeMetadata:
		return o.repo.UpdateVideoFields(ctx, videoID, map[string]any{"duration_sec": result.DurationSec})
	case constant.JobTypeThumbnail:
		// Thumbnail lives at a fixed key derived from the video id;
		// nothing to record.
		return nil
	}
	return nil
}

func (o *Orchestrator) finishVideoIfDone(ctx context.Context, videoID uuid.UUID) {
	jobs, err := o.repo.FindJobsByVideoId(ctx, videoID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to check video completion")
		return
	}
	for _, j := range jobs {
		if j.State != constant.JobStateSucceeded {
			return
		}
	}

	ready := constant.VideoStatusReady
	full := 100
	if _, err := o.statuses.Update(ctx, videoID, StatusDelta{Status: &ready, Progress: &full}); err != nil {
		if err != ErrInvalidTransition {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark video ready")
		}
		return
	}

	video, err := o.repo.FindVideoById(ctx, videoID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to reload ready video")
		return
	}
	zerolog.Ctx(ctx).Info().Str("video_id", videoID.String()).Msg("video ready")

	if o.listener != nil {
		// Workers settling the last two jobs can both observe
		// all-succeeded; ready notifications are at-least-once and
		// consumers must tolerate duplicates.
		o.listener.VideoReady(ctx, video)
	}
}

// Cancel abandons all of the video's pending and running jobs and
// marks the video failed with a cancelled reason. Held leases are
// released immediately.
func (o *Orchestrator) Cancel(ctx context.Context, videoID uuid.UUID) error {
	video, err := o.repo.FindVideoById(ctx, videoID)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrVideoNotFound
		}
		return err
	}
	if video.Status.Terminal() {
		return ErrInvalidTransition
	}

	if _, err := o.queue.AbandonVideoJobs(ctx, videoID, constant.FailureReasonCancelled); err != nil {
		return err
	}

	failed := constant.VideoStatusFailed
	reason := constant.FailureReasonCancelled
	if _, err := o.statuses.Update(ctx, videoID, StatusDelta{Status: &failed, Error: &reason}); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("video_id", videoID.String()).Msg("video processing cancelled")
	return nil
}
