package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathHealthz   = "/healthz"
	PathAPIPrefix = "/v1"
	PathJobs      = "/jobs"
	PathSchedules = "/schedules"
	PathRetries   = "/retries"
	PathStats     = "/stats"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 2
	SQLiteBusyTimeoutMS  = 5000
	DefaultJobsKept      = 100
	DefaultBatchSize     = 10
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageWebP = "image/webp"
)

// Subdirectory names
const (
	DraftsDirName = "drafts"
	ImagesDirName = "images"
	PinsDirName   = "pins"
)

// DatabaseFileName is the default SQLite file inside the storage dir.
const DatabaseFileName = "pinwriter.db"
