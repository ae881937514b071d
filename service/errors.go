package service

import "errors"

// Validation errors: rejected synchronously, no side effects.
var (
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidChunkRange  = errors.New("invalid chunk range")
	ErrSizeLimitExceeded  = errors.New("declared size exceeds limit")
	ErrBufferOverflow     = errors.New("out-of-order chunk buffer limit exceeded")
	ErrIncompleteUpload   = errors.New("received bytes do not cover declared size")
	ErrChecksumMismatch   = errors.New("content checksum mismatch")
	ErrSessionExpired     = errors.New("upload session expired")
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrVideoNotFound      = errors.New("video not found")
)

// Consistency errors: rejected, existing state unchanged.
var (
	ErrInvalidTransition = errors.New("illegal status transition")
	ErrChunkOverlap      = errors.New("chunk overlaps previously received bytes")
	ErrNotReady          = errors.New("video is not ready")
)

// ErrNonRetryable marks a permanent processing failure (corrupt input,
// unsupported codec). Joined onto the cause so callers can classify
// with errors.Is; anything not carrying it is treated as transient.
var ErrNonRetryable = errors.New("non-retryable error")

// Permanent wraps err so the orchestrator abandons the job instead of
// retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrNonRetryable, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrNonRetryable)
}
