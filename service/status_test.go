package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"mytube-pipeline/constant"
)

func statusPtr(s constant.VideoStatus) *constant.VideoStatus { return &s }
func intPtr(i int) *int                                      { return &i }
func strPtr(s string) *string                                { return &s }

func seedStatus(t *testing.T, store StatusStore, videoID uuid.UUID, path ...constant.VideoStatus) {
	t.Helper()
	for _, status := range path {
		if _, err := store.Update(context.Background(), videoID, StatusDelta{Status: statusPtr(status)}); err != nil {
			t.Fatalf("seeding status %s: %v", status, err)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []constant.VideoStatus
		to      constant.VideoStatus
		wantErr bool
	}{
		{"uploaded to queued", []constant.VideoStatus{constant.VideoStatusUploaded}, constant.VideoStatusQueued, false},
		{"queued to processing", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued}, constant.VideoStatusProcessing, false},
		{"processing to ready", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusProcessing}, constant.VideoStatusReady, false},
		{"processing to failed", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusProcessing}, constant.VideoStatusFailed, false},
		{"queued to failed", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued}, constant.VideoStatusFailed, false},
		{"self transition", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued}, constant.VideoStatusQueued, false},
		{"uploaded to processing skips queue", []constant.VideoStatus{constant.VideoStatusUploaded}, constant.VideoStatusProcessing, true},
		{"uploaded to ready", []constant.VideoStatus{constant.VideoStatusUploaded}, constant.VideoStatusReady, true},
		{"ready to processing", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusProcessing, constant.VideoStatusReady}, constant.VideoStatusProcessing, true},
		{"failed to ready", []constant.VideoStatus{constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusFailed}, constant.VideoStatusReady, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStatusStore(newMemRepo())
			videoID := uuid.New()
			seedStatus(t, store, videoID, tt.path...)

			_, err := store.Update(context.Background(), videoID, StatusDelta{Status: statusPtr(tt.to)})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Update() error = %v, want %v", err, ErrInvalidTransition)
				}
			} else if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		})
	}
}

func TestIllegalTransitionHasNoSideEffects(t *testing.T) {
	store := NewStatusStore(newMemRepo())
	ctx := context.Background()
	videoID := uuid.New()
	seedStatus(t, store, videoID, constant.VideoStatusUploaded)

	_, err := store.Update(ctx, videoID, StatusDelta{
		Status:   statusPtr(constant.VideoStatusReady),
		Progress: intPtr(80),
		Error:    strPtr("should not stick"),
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Update() error = %v, want %v", err, ErrInvalidTransition)
	}

	record, err := store.Get(ctx, videoID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != constant.VideoStatusUploaded {
		t.Errorf("status = %s, want %s", record.Status, constant.VideoStatusUploaded)
	}
	if record.Progress != 0 {
		t.Errorf("progress = %d, want 0", record.Progress)
	}
	if record.Error != nil {
		t.Error("error detail written despite rejected transition")
	}
}

func TestProgressMonotonicWithinAttempt(t *testing.T) {
	store := NewStatusStore(newMemRepo())
	ctx := context.Background()
	videoID := uuid.New()
	seedStatus(t, store, videoID, constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusProcessing)

	steps := []struct {
		report int
		want   int
	}{
		{10, 10},
		{40, 40},
		{25, 40}, // stale report, dropped
		{40, 40},
		{90, 90},
	}
	for _, step := range steps {
		record, err := store.Update(ctx, videoID, StatusDelta{Progress: intPtr(step.report)})
		if err != nil {
			t.Fatalf("Update(%d): %v", step.report, err)
		}
		if record.Progress != step.want {
			t.Errorf("progress after reporting %d = %d, want %d", step.report, record.Progress, step.want)
		}
	}
}

func TestNewAttemptResetsProgress(t *testing.T) {
	store := NewStatusStore(newMemRepo())
	ctx := context.Background()
	videoID := uuid.New()
	seedStatus(t, store, videoID, constant.VideoStatusUploaded, constant.VideoStatusQueued, constant.VideoStatusProcessing)

	if _, err := store.Update(ctx, videoID, StatusDelta{Progress: intPtr(70), Error: strPtr("encoder timeout")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	record, err := store.Update(ctx, videoID, StatusDelta{NewAttempt: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if record.Progress != 0 {
		t.Errorf("progress = %d, want 0 after new attempt", record.Progress)
	}
	if record.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", record.Attempt)
	}
	if record.Error != nil {
		t.Error("error detail should clear on new attempt")
	}
}

func TestStatusGetUnknownVideo(t *testing.T) {
	store := NewStatusStore(newMemRepo())
	if _, err := store.Get(context.Background(), uuid.New()); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrVideoNotFound)
	}
}

func TestStatusUpdateSyncsVideoRow(t *testing.T) {
	repo := newMemRepo()
	store := NewStatusStore(repo)
	ctx := context.Background()

	video := newTestVideo(constant.VideoStatusUploaded)
	if err := repo.CreateVideo(ctx, video); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	seedStatus(t, store, video.ID, constant.VideoStatusUploaded, constant.VideoStatusQueued)

	stored, err := repo.FindVideoById(ctx, video.ID)
	if err != nil {
		t.Fatalf("FindVideoById: %v", err)
	}
	if stored.Status != constant.VideoStatusQueued {
		t.Errorf("video row status = %s, want %s", stored.Status, constant.VideoStatusQueued)
	}
}
