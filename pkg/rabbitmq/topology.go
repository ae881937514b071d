package rabbitmq

// Exchange/queue names shared between the gateway side (publishers)
// and the worker side (consumers).
const (
	PipelineExchange  = "video_pipeline_exchange"
	JobsQueue         = "processing_jobs_queue"
	JobAvailableKey   = "processing.job.available"
	VideoReadyKey     = "video.ready"
	PublishExchange   = "video_publish_exchange"
	VideoPublishedKey = "video.published"
	SearchIndexQueue  = "search_index_queue"
)
