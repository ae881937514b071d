package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mytube_uploads_initiated_total",
		Help: "Upload sessions opened.",
	})

	UploadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mytube_uploads_completed_total",
		Help: "Upload sessions assembled and handed to the pipeline.",
	})

	ChunksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mytube_upload_chunks_total",
		Help: "Chunk append outcomes.",
	}, []string{"result"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mytube_processing_jobs_total",
		Help: "Processing jobs by terminal state.",
	}, []string{"job_type", "state"})

	JobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mytube_processing_job_retries_total",
		Help: "Jobs requeued after a transient failure.",
	})

	LeasesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mytube_lease_expirations_total",
		Help: "Job leases reclaimed from stalled workers.",
	})

	VideosPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mytube_videos_published_total",
		Help: "Videos made discoverable through the publish gate.",
	})
)
