package cmd

import (
	"net/http"
	"time"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/ailink/driver/runway"
	"github.com/gifmotion/gifmotion/internal/config"
	"github.com/gifmotion/gifmotion/internal/ratelimit"
)

// defaultRequestTimeout bounds one Runway call when runway.request_timeout is unset.
const defaultRequestTimeout = 60 * time.Second

// newRunwayClient builds the provider client from cfg.
func newRunwayClient(cfg *config.Config) *runway.Client {
	client := runway.NewClient(cfg.Runway.BaseURL, cfg.Runway.APIKey)
	if cfg.Runway.APIVersion != "" {
		client.APIVersion = cfg.Runway.APIVersion
	}
	client.HTTPClient = &http.Client{}
	client.Timeout = cfg.Runway.RequestTimeoutOr(defaultRequestTimeout)
	return client
}

// newGenerator wires the Runway client, image resolver and poll policy.
func newGenerator(cfg *config.Config) *ailink.Generator {
	model := cfg.Runway.Model
	if model == "" {
		model = runway.DefaultModel
	}
	return &ailink.Generator{
		Driver:     newRunwayClient(cfg),
		Images:     cfg.Image.Resolver(&http.Client{}),
		Policy:     cfg.Generation.Policy(),
		Model:      model,
		Parameters: cfg.Generation.Parameters(),
	}
}

// newLimiter builds the per-client window table for the gate.
func newLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	return ratelimit.New(ratelimit.Config{
		Interval:  cfg.Gate.RateWindow,
		MaxTokens: cfg.Gate.MaxTrackedClients,
	})
}
