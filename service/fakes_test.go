package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
	"mytube-pipeline/repository"
)

// memRepo is an in-memory repository.Repository used by the service
// tests. It stores copies so callers mutating returned values never
// alias stored state.
type memRepo struct {
	mu       sync.Mutex
	videos   map[uuid.UUID]*entities.Video
	sessions map[uuid.UUID]*entities.UploadSession
	jobs     map[uuid.UUID]*entities.ProcessingJob
	statuses map[uuid.UUID]*entities.StatusRecord
}

func newMemRepo() *memRepo {
	return &memRepo{
		videos:   make(map[uuid.UUID]*entities.Video),
		sessions: make(map[uuid.UUID]*entities.UploadSession),
		jobs:     make(map[uuid.UUID]*entities.ProcessingJob),
		statuses: make(map[uuid.UUID]*entities.StatusRecord),
	}
}

func copyVideo(v *entities.Video) *entities.Video {
	c := *v
	return &c
}

func copySession(s *entities.UploadSession) *entities.UploadSession {
	c := *s
	c.Received = append([]entities.ByteRange(nil), s.Received...)
	return &c
}

func copyJob(j *entities.ProcessingJob) *entities.ProcessingJob {
	c := *j
	return &c
}

func copyStatus(r *entities.StatusRecord) *entities.StatusRecord {
	c := *r
	return &c
}

func (m *memRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (m *memRepo) CreateVideo(ctx context.Context, video *entities.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[video.ID] = copyVideo(video)
	return nil
}

func (m *memRepo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.videos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyVideo(video), nil
}

func (m *memRepo) SaveVideo(ctx context.Context, video *entities.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[video.ID] = copyVideo(video)
	return nil
}

func (m *memRepo) UpdateVideoFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	video, ok := m.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	for column, value := range fields {
		switch column {
		case "status":
			video.Status = value.(constant.VideoStatus)
		case "playback_url":
			url := value.(string)
			video.PlaybackURL = &url
		case "duration_sec":
			duration := value.(int)
			video.DurationSec = &duration
		default:
			return fmt.Errorf("unexpected column %s", column)
		}
	}
	video.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) CreateUploadSession(ctx context.Context, session *entities.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *memRepo) FindUploadSessionById(ctx context.Context, id uuid.UUID) (*entities.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySession(session), nil
}

func (m *memRepo) SaveUploadSession(ctx context.Context, session *entities.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

func (m *memRepo) DeleteUploadSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memRepo) DeleteExpiredUploadSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (m *memRepo) CreateJob(ctx context.Context, job *entities.ProcessingJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.VideoID == job.VideoID && existing.JobType == job.JobType {
			return false, nil
		}
	}
	m.jobs[job.ID] = copyJob(job)
	return true, nil
}

func (m *memRepo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyJob(job), nil
}

func (m *memRepo) FindJobsByVideoId(ctx context.Context, videoID uuid.UUID) ([]*entities.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*entities.ProcessingJob
	for _, job := range m.jobs {
		if job.VideoID == videoID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt) })
	return jobs, nil
}

func (m *memRepo) SaveJob(ctx context.Context, job *entities.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memRepo) ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entities.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidate *entities.ProcessingJob
	for _, job := range m.jobs {
		if job.State != constant.JobStatePending {
			continue
		}
		if job.NextAttempt != nil && job.NextAttempt.After(now) {
			continue
		}
		if candidate == nil || job.EnqueuedAt.Before(candidate.EnqueuedAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}
	candidate.State = constant.JobStateRunning
	candidate.LeaseOwner = &workerID
	lease := leaseUntil
	candidate.LeaseExpires = &lease
	return copyJob(candidate), nil
}

func (m *memRepo) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released int64
	for _, job := range m.jobs {
		if job.State == constant.JobStateRunning && job.LeaseExpires != nil && now.After(*job.LeaseExpires) {
			job.State = constant.JobStatePending
			job.LeaseOwner = nil
			job.LeaseExpires = nil
			released++
		}
	}
	return released, nil
}

func (m *memRepo) GetStatusRecord(ctx context.Context, videoID uuid.UUID) (*entities.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.statuses[videoID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyStatus(record), nil
}

func (m *memRepo) SaveStatusRecord(ctx context.Context, record *entities.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[record.VideoID] = copyStatus(record)
	return nil
}

// memBlobStore keeps objects in a map.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (b *memBlobStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return fmt.Sprintf("etag-%d", len(data)), nil
}

func (b *memBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobStore) PutFile(ctx context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobStore) GetFile(ctx context.Context, key, localPath string) error {
	b.mu.Lock()
	data, ok := b.objects[key]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("object %s not found", key)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (b *memBlobStore) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobStore) object(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[key]
}

// fakePublisher records published payloads.
type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	exchange   string
	routingKey string
	payload    any
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, payload: payload})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// fakeEncoder runs a scripted outcome.
type fakeEncoder struct {
	mu      sync.Mutex
	runs    int
	outcome func(run int, report func(int)) (*EncodeResult, error)
}

func (e *fakeEncoder) Run(ctx context.Context, video *entities.Video, report func(int)) (*EncodeResult, error) {
	e.mu.Lock()
	e.runs++
	run := e.runs
	e.mu.Unlock()
	return e.outcome(run, report)
}

func (e *fakeEncoder) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func newTestVideo(status constant.VideoStatus) *entities.Video {
	objectPath := "uploads/test/source.mp4"
	return &entities.Video{
		ID:         uuid.New(),
		OwnerID:    uuid.New(),
		Title:      "clip",
		Visibility: constant.VisibilityPrivate,
		Status:     status,
		ObjectPath: &objectPath,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func succeedingEncoder(result *EncodeResult) *fakeEncoder {
	return &fakeEncoder{outcome: func(run int, report func(int)) (*EncodeResult, error) {
		report(50)
		report(100)
		return result, nil
	}}
}
