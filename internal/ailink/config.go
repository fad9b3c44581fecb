package ailink

import (
	"net/http"
	"time"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

// Config holds the generation settings found under `generation.*`.
type Config struct {
	DurationSeconds int     `mapstructure:"duration_seconds"`
	OutputFormat    string  `mapstructure:"output_format"`
	FPS             int     `mapstructure:"fps"`
	MotionBucketID  int     `mapstructure:"motion_bucket_id"`
	CondAug         float64 `mapstructure:"cond_aug"`

	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
}

// ImageConfig holds the image normalization settings found under `image.*`.
type ImageConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxEdge      int           `mapstructure:"max_edge"`
}

// Parameters returns the provider parameters, falling back to the defaults
// for unset fields.
func (c Config) Parameters() driver.Parameters {
	p := driver.DefaultParameters
	if c.DurationSeconds > 0 {
		p.DurationSeconds = c.DurationSeconds
	}
	if c.OutputFormat != "" {
		p.OutputFormat = c.OutputFormat
	}
	if c.FPS > 0 {
		p.FPS = c.FPS
	}
	if c.MotionBucketID > 0 {
		p.MotionBucketID = c.MotionBucketID
	}
	if c.CondAug > 0 {
		p.CondAug = c.CondAug
	}
	return p
}

// Policy returns the poll policy, falling back to DefaultPolicy for unset fields.
func (c Config) Policy() Policy {
	p := DefaultPolicy
	if c.PollInterval > 0 {
		p.Interval = c.PollInterval
	}
	if c.MaxPollAttempts > 0 {
		p.MaxAttempts = c.MaxPollAttempts
	}
	return p
}

// Resolver builds an ImageResolver from the settings.
func (c ImageConfig) Resolver(client *http.Client) *ImageResolver {
	return &ImageResolver{
		HTTPClient: client,
		Timeout:    c.FetchTimeout,
		MaxBytes:   c.MaxBytes,
		MaxEdge:    c.MaxEdge,
	}
}
