package constant

type VideoStatus string

const (
	VideoStatusUploaded   VideoStatus = "UPLOADED"
	VideoStatusQueued     VideoStatus = "QUEUED"
	VideoStatusProcessing VideoStatus = "PROCESSING"
	VideoStatusReady      VideoStatus = "READY"
	VideoStatusFailed     VideoStatus = "FAILED"
)

func (s VideoStatus) String() string {
	return string(s)
}

// Terminal reports whether the pipeline is done with the video.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusReady || s == VideoStatusFailed
}

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateAbandoned JobState = "ABANDONED"
)

func (s JobState) String() string {
	return string(s)
}

func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateAbandoned
}

type JobType string

const (
	JobTypeTranscode JobType = "transcode"
	JobTypeThumbnail JobType = "thumbnail"
	JobTypeMetadata  JobType = "metadata"
)

// AllJobTypes lists every job created for a freshly ingested video.
var AllJobTypes = []JobType{JobTypeTranscode, JobTypeThumbnail, JobTypeMetadata}

func (t JobType) String() string {
	return string(t)
}

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return true
	}
	return false
}

const FailureReasonCancelled = "cancelled"

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
