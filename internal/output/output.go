package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Report is the printable view of one generation or task lookup.
type Report struct {
	TaskID      string        `json:"id" yaml:"id"`
	Status      string        `json:"status" yaml:"status"`
	VideoURL    string        `json:"video_url,omitempty" yaml:"video_url,omitempty"`
	Outputs     []string      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Failure     string        `json:"failure,omitempty" yaml:"failure,omitempty"`
	FailureCode string        `json:"failure_code,omitempty" yaml:"failure_code,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Attempts    int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Elapsed     time.Duration `json:"-" yaml:"-"`
	ElapsedText string        `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
}

// Formatter renders reports.
type Formatter interface {
	FormatReport(report *Report) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FromResult builds a report for a finished generation.
func FromResult(result *ailink.Result, elapsed time.Duration) *Report {
	if result == nil {
		return nil
	}
	return withElapsed(&Report{
		TaskID:   result.ID,
		Status:   result.Status,
		VideoURL: result.Output.VideoURL,
		Attempts: result.Attempts,
	}, elapsed)
}

// FromError builds a report for a failed generation.
func FromError(err error, elapsed time.Duration) *Report {
	if err == nil {
		return nil
	}
	report := &Report{Status: "ERROR", Error: err.Error()}
	var genErr *ailink.Error
	if errors.As(err, &genErr) {
		report.TaskID = genErr.TaskID
		report.ErrorCode = genErr.Code()
		if genErr.Kind == ailink.KindRemoteTaskFailed {
			report.Status = string(driver.TaskFailed)
		}
	}
	return withElapsed(report, elapsed)
}

// FromTask builds a report for a single status lookup.
func FromTask(task *driver.Task) *Report {
	if task == nil {
		return nil
	}
	return &Report{
		TaskID:      task.ID,
		Status:      string(task.Status),
		VideoURL:    task.OutputURL(),
		Outputs:     task.Outputs,
		Failure:     task.Failure,
		FailureCode: task.FailureCode,
	}
}

func withElapsed(report *Report, elapsed time.Duration) *Report {
	if elapsed > 0 {
		report.Elapsed = elapsed
		report.ElapsedText = elapsed.Round(time.Millisecond).String()
	}
	return report
}
