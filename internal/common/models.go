package common

import "time"

const (
	DefaultConnections         = 4
	MaxConnections             = 32
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = time.Second
	DefaultProgressInterval    = 500 * time.Millisecond
	DefaultStartConfirmTimeout = 30 * time.Second
)

// Options contains the per-download job settings.
type Options struct {
	Directory string            `json:"directory"`
	Filename  string            `json:"filename,omitempty"`
	Bucket    string            `json:"bucket,omitempty"` // blob bucket URL, selects the sequential sink
	Headers   map[string]string `json:"headers,omitempty"`

	Connections int `json:"connections" validate:"min=1,max=32"`

	MaxRetries         int           `json:"max_retries" validate:"min=0"`
	RetryDelay         time.Duration `json:"retry_delay" validate:"min=0"`
	ExponentialBackoff bool          `json:"exponential_backoff,omitempty"`

	ProgressInterval    time.Duration `json:"progress_interval" validate:"gt=0"`
	StartConfirmTimeout time.Duration `json:"start_confirm_timeout,omitempty" validate:"min=0"`

	ReplaceExisting   bool `json:"replace_existing,omitempty"`
	NoFollowRedirects bool `json:"no_follow_redirects,omitempty"`
}

// DefaultOptions returns options with every tunable set.
func DefaultOptions() *Options {
	return &Options{
		Connections:         DefaultConnections,
		MaxRetries:          DefaultMaxRetries,
		RetryDelay:          DefaultRetryDelay,
		ProgressInterval:    DefaultProgressInterval,
		StartConfirmTimeout: DefaultStartConfirmTimeout,
	}
}

// Stats contains aggregated statistics across all downloads.
type Stats struct {
	Enqueued        int
	Running         int
	Paused          int
	Stopped         int
	Failed          int
	Succeeded       int
	TotalDownloaded int64
	CurrentSpeed    int64
	MaxConcurrent   int
}
