package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mytube-pipeline/config"
	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
	"mytube-pipeline/pkg/metrics"
	"mytube-pipeline/repository"
	"mytube-pipeline/storage"
)

type AppendResult string

const (
	AppendAccepted   AppendResult = "accepted"
	AppendDuplicate  AppendResult = "duplicate"
	AppendOutOfOrder AppendResult = "out_of_order"
)

// UploadService is the pipeline's ingestion edge: it owns upload
// sessions, assembles chunked uploads and hands finished videos to the
// job queue.
type UploadService interface {
	Initiate(ctx context.Context, ownerID uuid.UUID, filename, contentType string, declaredSize int64, checksum *string) (*entities.UploadSession, error)
	AppendChunk(ctx context.Context, sessionID uuid.UUID, offset int64, data []byte) (AppendResult, error)
	Complete(ctx context.Context, sessionID uuid.UUID) (*entities.Video, error)
	Abort(ctx context.Context, sessionID uuid.UUID) error
	PurgeExpired(ctx context.Context) error
}

type uploadService struct {
	repo     repository.Repository
	blobs    storage.BlobStore
	queue    JobQueue
	statuses StatusStore
	cfg      config.Upload
	now      func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

// sessionState is the per-session in-process assembly state. The
// spool file is sparse; chunks land at their final offset and the
// out-of-order accounting only bounds how far ahead of the contiguous
// prefix a client may run.
type sessionState struct {
	mu    sync.Mutex
	spool *os.File
}

func NewUploadService(repo repository.Repository, blobs storage.BlobStore, queue JobQueue, statuses StatusStore, cfg config.Upload) UploadService {
	return &uploadService{
		repo:     repo,
		blobs:    blobs,
		queue:    queue,
		statuses: statuses,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*sessionState),
	}
}

func (s *uploadService) Initiate(ctx context.Context, ownerID uuid.UUID, filename, contentType string, declaredSize int64, checksum *string) (*entities.UploadSession, error) {
	if !s.contentTypeAllowed(contentType) {
		return nil, ErrInvalidContentType
	}
	if declaredSize <= 0 || declaredSize > s.cfg.MaxSizeBytes {
		return nil, ErrSizeLimitExceeded
	}

	video := &entities.Video{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Title:      strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Visibility: constant.VisibilityPrivate,
		Status:     constant.VideoStatusUploaded,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		return nil, err
	}

	session := &entities.UploadSession{
		ID:           uuid.New(),
		VideoID:      video.ID,
		OwnerID:      ownerID,
		Filename:     filepath.Base(filename),
		ContentType:  contentType,
		DeclaredSize: declaredSize,
		Checksum:     checksum,
		ExpiresAt:    s.now().Add(s.cfg.SessionTTL),
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := s.repo.CreateUploadSession(ctx, session); err != nil {
		return nil, err
	}

	uploaded := constant.VideoStatusUploaded
	if _, err := s.statuses.Update(ctx, video.ID, StatusDelta{Status: &uploaded}); err != nil {
		return nil, err
	}

	metrics.UploadsInitiated.Inc()
	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("video_id", video.ID.String()).
		Int64("declared_size", declaredSize).
		Msg("upload session opened")
	return session, nil
}

func (s *uploadService) AppendChunk(ctx context.Context, sessionID uuid.UUID, offset int64, data []byte) (AppendResult, error) {
	state := s.state(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := s.repo.FindUploadSessionById(ctx, sessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if session.Expired(s.now()) {
		return "", ErrSessionExpired
	}

	chunk := entities.ByteRange{Offset: offset, Length: int64(len(data))}
	if chunk.Length == 0 || offset < 0 {
		return "", ErrInvalidChunkRange
	}
	if chunk.End() > session.DeclaredSize {
		return "", ErrSizeLimitExceeded
	}

	switch classifyChunk(session.Received, chunk) {
	case chunkDuplicate:
		metrics.ChunksReceived.WithLabelValues(string(AppendDuplicate)).Inc()
		return AppendDuplicate, nil
	case chunkOverlap:
		return "", ErrChunkOverlap
	}

	frontier := contiguousPrefix(session.Received)
	merged := mergeRange(session.Received, chunk)

	// Everything past the contiguous prefix is out-of-order data the
	// client delivered ahead of a gap; bound it.
	prefix := contiguousPrefix(merged)
	received := totalBytes(merged)
	if received-prefix > s.cfg.ReorderBufferBytes {
		if err := s.failSession(ctx, session, ErrBufferOverflow.Error()); err != nil {
			return "", err
		}
		return "", ErrBufferOverflow
	}

	if err := s.writeSpool(state, sessionID, offset, data); err != nil {
		return "", err
	}

	session.Received = merged
	if err := s.repo.SaveUploadSession(ctx, session); err != nil {
		return "", err
	}

	result := AppendAccepted
	if offset > frontier {
		result = AppendOutOfOrder
	}
	metrics.ChunksReceived.WithLabelValues(string(result)).Inc()
	return result, nil
}

func (s *uploadService) Complete(ctx context.Context, sessionID uuid.UUID) (*entities.Video, error) {
	state := s.state(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	session, err := s.repo.FindUploadSessionById(ctx, sessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, ErrSessionExpired
	}

	if !coversExactly(session.Received, session.DeclaredSize) {
		return nil, ErrIncompleteUpload
	}

	spoolPath := s.spoolPath(sessionID)
	if session.Checksum != nil {
		sum, err := fileChecksum(spoolPath)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(sum, *session.Checksum) {
			return nil, ErrChecksumMismatch
		}
	}

	video, err := s.repo.FindVideoById(ctx, session.VideoID)
	if err != nil {
		return nil, err
	}

	objectPath := fmt.Sprintf("uploads/%s/source%s", video.ID, filepath.Ext(session.Filename))
	if err := s.blobs.PutFile(ctx, objectPath, spoolPath); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist assembled upload")
		return nil, err
	}

	video.ObjectPath = &objectPath
	if err := s.repo.SaveVideo(ctx, video); err != nil {
		return nil, err
	}

	queued := constant.VideoStatusQueued
	if _, err := s.statuses.Update(ctx, video.ID, StatusDelta{Status: &queued}); err != nil {
		return nil, err
	}
	video.Status = queued

	for _, jobType := range constant.AllJobTypes {
		if err := s.queue.Enqueue(ctx, video.ID, jobType); err != nil {
			return nil, err
		}
	}

	if err := s.repo.DeleteUploadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	s.dropState(sessionID)

	metrics.UploadsCompleted.Inc()
	zerolog.Ctx(ctx).Info().
		Str("video_id", video.ID.String()).
		Str("object_path", objectPath).
		Msg("upload completed, video queued")
	return video, nil
}

func (s *uploadService) Abort(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.repo.FindUploadSessionById(ctx, sessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrSessionNotFound
		}
		return err
	}
	return s.failSession(ctx, session, "upload aborted")
}

func (s *uploadService) PurgeExpired(ctx context.Context) error {
	purged, err := s.repo.DeleteExpiredUploadSessions(ctx, s.now())
	if err != nil {
		return err
	}
	if purged > 0 {
		zerolog.Ctx(ctx).Info().Int64("count", purged).Msg("purged expired upload sessions")
	}
	return nil
}

func (s *uploadService) failSession(ctx context.Context, session *entities.UploadSession, reason string) error {
	failed := constant.VideoStatusFailed
	if _, err := s.statuses.Update(ctx, session.VideoID, StatusDelta{Status: &failed, Error: &reason}); err != nil && err != ErrInvalidTransition {
		return err
	}
	if err := s.repo.DeleteUploadSession(ctx, session.ID); err != nil {
		return err
	}
	s.dropState(session.ID)
	return nil
}

func (s *uploadService) contentTypeAllowed(contentType string) bool {
	for _, allowed := range s.cfg.AllowedContentTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func (s *uploadService) state(sessionID uuid.UUID) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		s.sessions[sessionID] = state
	}
	return state
}

func (s *uploadService) dropState(sessionID uuid.UUID) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok && state.spool != nil {
		state.spool.Close()
	}
	os.Remove(s.spoolPath(sessionID))
}

func (s *uploadService) spoolPath(sessionID uuid.UUID) string {
	dir := s.cfg.SpoolDir
	if dir == "" {
		dir = filepath.Join("temp", "uploads")
	}
	return filepath.Join(dir, sessionID.String())
}

func (s *uploadService) writeSpool(state *sessionState, sessionID uuid.UUID, offset int64, data []byte) error {
	if state.spool == nil {
		path := s.spoolPath(sessionID)
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return err
		}
		state.spool = f
	}
	_, err := state.spool.WriteAt(data, offset)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type chunkClass int

const (
	chunkNew chunkClass = iota
	chunkDuplicate
	chunkOverlap
)

// classifyChunk distinguishes a fresh range from an exact re-delivery
// (idempotently discarded) and a partial overlap (rejected).
func classifyChunk(received []entities.ByteRange, chunk entities.ByteRange) chunkClass {
	for _, r := range received {
		if chunk.Offset >= r.Offset && chunk.End() <= r.End() {
			return chunkDuplicate
		}
		if chunk.Offset < r.End() && chunk.End() > r.Offset {
			return chunkOverlap
		}
	}
	return chunkNew
}

// mergeRange inserts chunk and coalesces adjacent ranges, keeping the
// set sorted and non-overlapping.
func mergeRange(received []entities.ByteRange, chunk entities.ByteRange) []entities.ByteRange {
	merged := make([]entities.ByteRange, 0, len(received)+1)
	merged = append(merged, received...)
	merged = append(merged, chunk)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Offset < merged[j].Offset })

	out := merged[:1]
	for _, r := range merged[1:] {
		last := &out[len(out)-1]
		if r.Offset <= last.End() {
			if r.End() > last.End() {
				last.Length = r.End() - last.Offset
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// contiguousPrefix returns how many bytes are covered from offset 0
// with no gap.
func contiguousPrefix(received []entities.ByteRange) int64 {
	if len(received) == 0 || received[0].Offset != 0 {
		return 0
	}
	return received[0].End()
}

func totalBytes(received []entities.ByteRange) int64 {
	var total int64
	for _, r := range received {
		total += r.Length
	}
	return total
}

func coversExactly(received []entities.ByteRange, size int64) bool {
	return len(received) == 1 && received[0].Offset == 0 && received[0].Length == size
}
