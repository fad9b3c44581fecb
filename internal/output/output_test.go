package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

func sampleResult() *ailink.Result {
	return &ailink.Result{
		ID:       "task-42",
		Status:   "SUCCEEDED",
		Output:   ailink.Output{VideoURL: "https://cdn.example/v.mp4"},
		Attempts: 4,
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":         FormatTable,
		"table":    FormatTable,
		"JSON":     FormatJSON,
		"yaml":     FormatYAML,
		"yml":      FormatYAML,
		"markdown": FormatMarkdown,
		"md":       FormatMarkdown,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	_, err := ParseFormat("csv")
	require.Error(t, err)
}

func TestJSONReport(t *testing.T) {
	report := FromResult(sampleResult(), 1500*time.Millisecond)

	rendered, err := NewFormatter(FormatJSON).FormatReport(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, "task-42", decoded["id"])
	require.Equal(t, "https://cdn.example/v.mp4", decoded["video_url"])
	require.Equal(t, "1.5s", decoded["elapsed"])
	require.NotContains(t, decoded, "error")
}

func TestYAMLReport(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML).FormatReport(FromResult(sampleResult(), 0))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, "SUCCEEDED", decoded["status"])
	require.Equal(t, 4, decoded["attempts"])
	require.NotContains(t, decoded, "elapsed")
}

func TestTableReport(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatReport(FromResult(sampleResult(), 2*time.Second))
	require.NoError(t, err)
	require.Contains(t, rendered, "task-42")
	require.Contains(t, rendered, "succeeded")
	require.Contains(t, rendered, "4 status checks, 2s")
	require.NotContains(t, rendered, "STATUS CHECKS")
	require.Contains(t, rendered, "FIELD", "header keeps the style's upper-case format")
}

func TestErrorReport(t *testing.T) {
	err := &ailink.Error{Kind: ailink.KindRemoteTaskFailed, TaskID: "task-7", Detail: "content moderation"}
	report := FromError(err, time.Second)

	require.Equal(t, "task-7", report.TaskID)
	require.Equal(t, "FAILED", report.Status)
	require.Equal(t, "REMOTE_TASK_FAILED", report.ErrorCode)

	rendered, renderErr := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, renderErr)
	require.Contains(t, rendered, "## Task task-7")
	require.Contains(t, rendered, "Task processing failed: content moderation [REMOTE_TASK_FAILED]")
}

func TestTaskReport(t *testing.T) {
	task := &driver.Task{
		ID:          "task-9",
		Status:      driver.TaskFailed,
		Failure:     "bad | input",
		FailureCode: "INPUT.INVALID",
	}

	rendered, err := NewFormatter(FormatMarkdown).FormatReport(FromTask(task))
	require.NoError(t, err)
	require.Contains(t, rendered, `bad \| input (INPUT.INVALID)`)
	require.False(t, strings.Contains(rendered, "**Run**"))
}

func TestNilReports(t *testing.T) {
	require.Nil(t, FromResult(nil, 0))
	require.Nil(t, FromError(nil, 0))
	require.Nil(t, FromTask(nil))

	for _, format := range []Format{FormatTable, FormatJSON, FormatYAML, FormatMarkdown} {
		rendered, err := NewFormatter(format).FormatReport(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)
	}
}
