package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
	"github.com/gifmotion/gifmotion/internal/config"
	"github.com/gifmotion/gifmotion/internal/observability"
)

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

func (s checkStatus) String() string {
	switch s {
	case checkOK:
		return "✅"
	case checkWarn:
		return "⚠️ "
	default:
		return "❌"
	}
}

type checkResult struct {
	Name   string
	Status checkStatus
	Detail string
	Err    error
}

// taskGetter is the slice of the Runway client the connectivity probe needs.
type taskGetter interface {
	GetTask(ctx context.Context, id string) (*driver.Task, error)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration and the environment.

With --online the Runway API is contacted once to verify the base URL and API key.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().Bool("online", false, "probe the Runway API with the configured key")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	online, _ := cmd.Flags().GetBool("online")
	logger := observability.CLILogger

	logger.Info("=== " + config.AppName + " doctor ===")

	cfg, cfgErr := loadConfig()
	results := []checkResult{
		checkGoVersion(),
		checkLibraries(),
		checkConfigFile(viper.ConfigFileUsed()),
		checkConfig(cfg, cfgErr),
		checkAPIKey(cfg),
		checkGate(cfg),
	}
	if online && cfgErr == nil {
		results = append(results, checkRunway(commandContext(cmd), newRunwayClient(cfg)))
	}

	failed := 0
	for i, res := range results {
		line := fmt.Sprintf("[%d/%d] %s... %s %s", i+1, len(results), res.Name, res.Status, res.Detail)
		switch res.Status {
		case checkOK:
			logger.Info(line)
		case checkWarn:
			logger.Warn(line, zap.Error(res.Err))
		default:
			failed++
			logger.Error(line, zap.Error(res.Err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	logger.Info("All checks passed")
	return nil
}

func checkGoVersion() checkResult {
	return checkResult{
		Name:   "Go runtime",
		Status: checkOK,
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkLibraries() checkResult {
	version := crucible.GetVersion()
	if version.Gofulmen == "" || version.Crucible == "" {
		return checkResult{Name: "Gofulmen/Crucible", Status: checkWarn, Detail: "version metadata unavailable"}
	}
	return checkResult{
		Name:   "Gofulmen/Crucible",
		Status: checkOK,
		Detail: fmt.Sprintf("gofulmen v%s, crucible v%s", version.Gofulmen, version.Crucible),
	}
}

func checkConfigFile(used string) checkResult {
	if used == "" {
		detail := "none found, using defaults and environment"
		if path := config.DefaultConfigPath(); path != "" {
			detail += " (expected at " + path + ")"
		}
		return checkResult{Name: "Config file", Status: checkOK, Detail: detail}
	}
	info, err := os.Stat(used)
	if err != nil {
		return checkResult{Name: "Config file", Status: checkWarn, Detail: used, Err: err}
	}
	return checkResult{Name: "Config file", Status: checkOK, Detail: fmt.Sprintf("%s (%s)", used, formatFileSize(info.Size()))}
}

func checkConfig(cfg *config.Config, err error) checkResult {
	if err != nil {
		return checkResult{Name: "Configuration", Status: checkFail, Detail: "invalid", Err: err}
	}
	if warnings := cfg.Warnings(); len(warnings) > 0 {
		return checkResult{Name: "Configuration", Status: checkWarn, Detail: strings.Join(warnings, "; ")}
	}
	return checkResult{Name: "Configuration", Status: checkOK, Detail: "valid"}
}

func checkAPIKey(cfg *config.Config) checkResult {
	if cfg == nil {
		return checkResult{Name: "Runway API key", Status: checkWarn, Detail: "skipped (config not loaded)"}
	}
	key := strings.TrimSpace(cfg.Runway.APIKey)
	if key == "" {
		return checkResult{
			Name:   "Runway API key",
			Status: checkFail,
			Detail: "not set (export " + config.EnvPrefix + "RUNWAY_API_KEY)",
		}
	}
	return checkResult{Name: "Runway API key", Status: checkOK, Detail: "set (" + maskSecret(key) + ")"}
}

func checkGate(cfg *config.Config) checkResult {
	if cfg == nil {
		return checkResult{Name: "Request gate", Status: checkWarn, Detail: "skipped (config not loaded)"}
	}
	origin := cfg.Gate.AppURL
	if origin == "" {
		origin = "any referer"
	}
	return checkResult{
		Name:   "Request gate",
		Status: checkOK,
		Detail: fmt.Sprintf("%s, %d requests per %s", origin, cfg.Gate.RateLimit, cfg.Gate.RateWindow),
	}
}

// checkRunway fetches a task that cannot exist. A 404 proves the base URL and
// key are accepted; 401 and 403 mean the key is not.
func checkRunway(ctx context.Context, client taskGetter) checkResult {
	const name = "Runway API"

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := client.GetTask(ctx, uuid.Nil.String())
	if err == nil {
		return checkResult{Name: name, Status: checkOK, Detail: "reachable"}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) {
		switch perr.StatusCode {
		case http.StatusNotFound, http.StatusBadRequest:
			return checkResult{Name: name, Status: checkOK, Detail: "reachable, key accepted"}
		case http.StatusUnauthorized, http.StatusForbidden:
			return checkResult{Name: name, Status: checkFail, Detail: "API key rejected", Err: err}
		}
	}
	return checkResult{Name: name, Status: checkFail, Detail: "unreachable", Err: err}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
