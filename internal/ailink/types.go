package ailink

import (
	"fmt"
	"time"
)

// Policy bounds the poll loop. Waits are fixed; there is no jitter or backoff.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPolicy polls every 10s for at most 30 attempts (five minutes).
var DefaultPolicy = Policy{
	Interval:    10 * time.Second,
	MaxAttempts: 30,
}

// Budget is the total time spent waiting before a timeout.
func (p Policy) Budget() time.Duration {
	return p.Interval * time.Duration(p.MaxAttempts)
}

// Result is the response for a successful generation.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output Output `json:"output"`

	// Attempts is the number of status checks that were made.
	Attempts int `json:"-"`
}

// Output carries the generated media reference.
type Output struct {
	VideoURL string `json:"video_url"`
}

// humanDuration renders whole minutes as "5 minutes" and anything else with
// time.Duration formatting.
func humanDuration(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
