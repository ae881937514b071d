package service

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
	"mytube-pipeline/repository"
)

// StatusDelta is a partial update applied to a video's status record.
// Nil fields are left untouched.
type StatusDelta struct {
	Status     *constant.VideoStatus
	Progress   *int
	NewAttempt bool
	Error      *string
}

type StatusStore interface {
	Get(ctx context.Context, videoID uuid.UUID) (*entities.StatusRecord, error)
	Update(ctx context.Context, videoID uuid.UUID, delta StatusDelta) (*entities.StatusRecord, error)
}

// legalTransitions is the processing lifecycle graph. Self-transitions
// are always allowed so progress-only updates can repeat a status.
// Failure is reachable from any non-terminal status: an upload can be
// aborted and a queued or processing video can be cancelled.
var legalTransitions = map[constant.VideoStatus][]constant.VideoStatus{
	constant.VideoStatusUploaded:   {constant.VideoStatusQueued, constant.VideoStatusFailed},
	constant.VideoStatusQueued:     {constant.VideoStatusProcessing, constant.VideoStatusFailed},
	constant.VideoStatusProcessing: {constant.VideoStatusReady, constant.VideoStatusFailed},
}

func transitionAllowed(from, to constant.VideoStatus) bool {
	if from == to {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const statusStripes = 64

type statusStore struct {
	repo repository.Repository

	// Writes for one video are serialized through a striped lock so
	// the read-modify-write below never interleaves. Reads bypass the
	// locks entirely.
	stripes [statusStripes]sync.Mutex
}

func NewStatusStore(repo repository.Repository) StatusStore {
	return &statusStore{
		repo: repo,
	}
}

func (s *statusStore) lock(videoID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(videoID[:])
	return &s.stripes[h.Sum32()%statusStripes]
}

func (s *statusStore) Get(ctx context.Context, videoID uuid.UUID) (*entities.StatusRecord, error) {
	record, err := s.repo.GetStatusRecord(ctx, videoID)
	if err == repository.ErrNotFound {
		return nil, ErrVideoNotFound
	}
	return record, err
}

func (s *statusStore) Update(ctx context.Context, videoID uuid.UUID, delta StatusDelta) (*entities.StatusRecord, error) {
	mu := s.lock(videoID)
	mu.Lock()
	defer mu.Unlock()

	record, err := s.repo.GetStatusRecord(ctx, videoID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if record == nil {
		record = &entities.StatusRecord{
			VideoID: videoID,
			Status:  constant.VideoStatusUploaded,
		}
	}

	if delta.Status != nil && !transitionAllowed(record.Status, *delta.Status) {
		zerolog.Ctx(ctx).Warn().
			Str("video_id", videoID.String()).
			Str("from", record.Status.String()).
			Str("to", delta.Status.String()).
			Msg("rejected illegal status transition")
		return nil, ErrInvalidTransition
	}

	if delta.NewAttempt {
		record.Attempt++
		record.Progress = 0
		record.Error = nil
	}
	if delta.Status != nil {
		record.Status = *delta.Status
	}
	if delta.Progress != nil && *delta.Progress > record.Progress {
		// Progress is monotonically non-decreasing within an attempt;
		// stale reports from a worker are dropped, not an error.
		record.Progress = *delta.Progress
	}
	if delta.Error != nil {
		record.Error = delta.Error
	}

	if err := s.repo.SaveStatusRecord(ctx, record); err != nil {
		return nil, err
	}

	// Keep the video row's lifecycle field in step with the record so
	// gateway reads of the video see the same status. Field-scoped so
	// a job result landing on the same row concurrently is preserved.
	if delta.Status != nil {
		err := s.repo.UpdateVideoFields(ctx, videoID, map[string]any{"status": record.Status})
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}
	}

	return record, nil
}
