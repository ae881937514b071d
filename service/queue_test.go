package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

func newQueueFixture(maxAttempts int) (*jobQueue, *memRepo, *fakePublisher) {
	repo := newMemRepo()
	publisher := &fakePublisher{}
	q := NewJobQueue(repo, publisher, maxAttempts).(*jobQueue)
	return q, repo, publisher
}

func TestEnqueueIdempotent(t *testing.T) {
	q, repo, publisher := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	if err := q.Enqueue(ctx, videoID, constant.JobTypeTranscode); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, videoID, constant.JobTypeTranscode); err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}

	jobs, _ := repo.FindJobsByVideoId(ctx, videoID)
	if len(jobs) != 1 {
		t.Errorf("job count = %d, want 1", len(jobs))
	}
	if publisher.count() != 1 {
		t.Errorf("wake-ups published = %d, want 1", publisher.count())
	}
}

func TestDequeueLeasesExclusively(t *testing.T) {
	q, _, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	if err := q.Enqueue(ctx, videoID, constant.JobTypeTranscode); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := q.Dequeue(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.State != constant.JobStateRunning {
		t.Errorf("job state = %s, want %s", job.State, constant.JobStateRunning)
	}
	if job.LeaseOwner == nil || *job.LeaseOwner != "worker-1" {
		t.Error("lease owner not recorded")
	}

	second, err := q.Dequeue(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if second != nil {
		t.Error("leased job must not be handed out twice")
	}
}

func TestAckFinalizesJob(t *testing.T) {
	q, repo, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)
	job, _ := q.Dequeue(ctx, "worker-1", time.Minute)

	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	stored, _ := repo.FindJobById(ctx, job.ID)
	if stored.State != constant.JobStateSucceeded {
		t.Errorf("job state = %s, want %s", stored.State, constant.JobStateSucceeded)
	}
	if stored.LeaseOwner != nil {
		t.Error("lease should be released on ack")
	}
}

func TestNackTransientRequeuesWithBackoff(t *testing.T) {
	q, _, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	start := time.Now()
	q.now = func() time.Time { return start }

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)
	job, _ := q.Dequeue(ctx, "worker-1", time.Minute)

	settled, err := q.Nack(ctx, job.ID, errors.New("encoder timeout"))
	if err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if settled.State != constant.JobStatePending {
		t.Fatalf("job state = %s, want %s", settled.State, constant.JobStatePending)
	}
	if settled.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", settled.Attempts)
	}
	if settled.NextAttempt == nil || !settled.NextAttempt.After(start) {
		t.Fatal("requeued job should carry a future next-attempt time")
	}

	// Not claimable before the backoff elapses.
	if redelivered, _ := q.Dequeue(ctx, "worker-1", time.Minute); redelivered != nil {
		t.Error("job redelivered before backoff elapsed")
	}

	q.now = func() time.Time { return settled.NextAttempt.Add(time.Second) }
	redelivered, _ := q.Dequeue(ctx, "worker-1", time.Minute)
	if redelivered == nil {
		t.Fatal("job not redelivered after backoff")
	}
	if redelivered.ID != job.ID {
		t.Error("redelivered a different job")
	}
}

func TestNackPermanentAbandonsImmediately(t *testing.T) {
	q, _, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)
	job, _ := q.Dequeue(ctx, "worker-1", time.Minute)

	settled, err := q.Nack(ctx, job.ID, Permanent(errors.New("unsupported codec")))
	if err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if settled.State != constant.JobStateAbandoned {
		t.Errorf("job state = %s, want %s", settled.State, constant.JobStateAbandoned)
	}
	if settled.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", settled.Attempts)
	}
}

func TestNackExhaustsAttempts(t *testing.T) {
	maxAttempts := 3
	q, _, _ := newQueueFixture(maxAttempts)
	ctx := context.Background()
	videoID := uuid.New()

	now := time.Now()
	q.now = func() time.Time { return now }

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)

	var lastState constant.JobState
	var lastAttempts int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job, _ := q.Dequeue(ctx, "worker-1", time.Minute)
		if job == nil {
			t.Fatalf("attempt %d: no job delivered", attempt)
		}
		settled, err := q.Nack(ctx, job.ID, errors.New("encoder timeout"))
		if err != nil {
			t.Fatalf("Nack: %v", err)
		}
		lastState = settled.State
		lastAttempts = settled.Attempts
		if settled.NextAttempt != nil {
			now = settled.NextAttempt.Add(time.Second)
		}
	}

	if lastState != constant.JobStateAbandoned {
		t.Errorf("final state = %s, want %s", lastState, constant.JobStateAbandoned)
	}
	if lastAttempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", lastAttempts, maxAttempts)
	}
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q, _, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	start := time.Now()
	q.now = func() time.Time { return start }

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)
	job, _ := q.Dequeue(ctx, "worker-1", time.Minute)
	if job == nil {
		t.Fatal("expected a job")
	}

	// Worker stalls; the lease lapses.
	q.now = func() time.Time { return start.Add(2 * time.Minute) }
	released, err := q.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("ReleaseExpired: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	redelivered, _ := q.Dequeue(ctx, "worker-2", time.Minute)
	if redelivered == nil {
		t.Fatal("job not redelivered after lease expiry")
	}
	if redelivered.ID != job.ID {
		t.Error("redelivered a different job")
	}

	// Redelivery without a nack does not consume an attempt.
	if redelivered.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", redelivered.Attempts)
	}
}

func TestAbandonVideoJobsReleasesLeases(t *testing.T) {
	q, repo, _ := newQueueFixture(3)
	ctx := context.Background()
	videoID := uuid.New()

	_ = q.Enqueue(ctx, videoID, constant.JobTypeTranscode)
	_ = q.Enqueue(ctx, videoID, constant.JobTypeThumbnail)
	_ = q.Enqueue(ctx, videoID, constant.JobTypeMetadata)

	// One running, two pending.
	running, _ := q.Dequeue(ctx, "worker-1", time.Minute)
	if running == nil {
		t.Fatal("expected a job")
	}

	touched, err := q.AbandonVideoJobs(ctx, videoID, constant.FailureReasonCancelled)
	if err != nil {
		t.Fatalf("AbandonVideoJobs: %v", err)
	}
	if len(touched) != 3 {
		t.Errorf("abandoned %d jobs, want 3", len(touched))
	}

	jobs, _ := repo.FindJobsByVideoId(ctx, videoID)
	for _, job := range jobs {
		if job.State != constant.JobStateAbandoned {
			t.Errorf("job %s state = %s, want %s", job.JobType, job.State, constant.JobStateAbandoned)
		}
		if job.LeaseOwner != nil || job.LeaseExpires != nil {
			t.Errorf("job %s still holds a lease", job.JobType)
		}
		if job.LastError == nil || *job.LastError != constant.FailureReasonCancelled {
			t.Errorf("job %s missing cancellation reason", job.JobType)
		}
	}

	if leftover, _ := q.Dequeue(ctx, "worker-2", time.Minute); leftover != nil {
		t.Error("abandoned job must not be redelivered")
	}
}
