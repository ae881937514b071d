package service

import (
	"context"

	"mytube-pipeline/constant"
	"mytube-pipeline/entities"
)

// EncodeResult is what a work unit hands back to the orchestrator.
// Fields are filled per job type.
type EncodeResult struct {
	PlaybackURL   string
	ThumbnailPath string
	DurationSec   int
}

// Encoder is the external work unit run for one processing job.
// Implementations report progress in percent through report (calls
// must be non-decreasing) and classify terminal failures: wrap
// permanent ones with Permanent, leave transient ones bare.
type Encoder interface {
	Run(ctx context.Context, video *entities.Video, report func(progress int)) (*EncodeResult, error)
}

// EncoderSet maps each job type to its work unit.
type EncoderSet map[constant.JobType]Encoder
