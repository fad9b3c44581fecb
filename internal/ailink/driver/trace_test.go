package driver

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactImagePayload(t *testing.T) {
	image := "data:image/png;base64," + strings.Repeat("A", 200)
	body, err := json.Marshal(map[string]any{"promptImage": image, "promptText": "waves"})
	require.NoError(t, err)

	redacted := RedactImagePayload(body)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(redacted, &payload))
	require.Equal(t, image[:30]+"...", payload["promptImage"])
	require.Equal(t, "waves", payload["promptText"])
}

func TestRedactImagePayloadPassesThrough(t *testing.T) {
	require.Nil(t, RedactImagePayload(nil))
	require.Equal(t, []byte(`not json`), RedactImagePayload([]byte(`not json`)))
	require.Equal(t, []byte(`{"id":"t"}`), RedactImagePayload([]byte(`{"id":"t"}`)))
}

func TestTracingWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")

	cleanup, err := EnableTracing(path)
	require.NoError(t, err)
	require.True(t, IsTracingEnabled())

	Trace(TraceEntry{
		Driver:      "runway",
		Endpoint:    "https://api.example/v1/image_to_video",
		Method:      "POST",
		RequestBody: json.RawMessage(`{"promptImage":"` + strings.Repeat("B", 64) + `"}`),
		StatusCode:  200,
		Response:    json.RawMessage(`{"id":"task-1"}`),
	})
	cleanup()
	require.False(t, IsTracingEnabled())

	// Disabled tracing is a no-op.
	Trace(TraceEntry{Driver: "runway"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 1)

	var entry TraceEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "runway", entry.Driver)
	require.False(t, entry.Timestamp.IsZero())
	require.NotContains(t, string(entry.RequestBody), strings.Repeat("B", 64))
}

func TestTaskHelpers(t *testing.T) {
	require.True(t, TaskSucceeded.Terminal())
	require.True(t, TaskFailed.Terminal())
	require.False(t, TaskPending.Terminal())
	require.False(t, TaskStatus("CANCELLED").Terminal())
	require.Equal(t, TaskSucceeded, Normalize(" succeeded "))

	var nilTask *Task
	require.Empty(t, nilTask.OutputURL())
	require.Equal(t, "a", (&Task{Outputs: []string{"a", "b"}}).OutputURL())
}

type bufferCloser struct {
	strings.Builder
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestTracerDropsWritesAfterClose(t *testing.T) {
	out := &bufferCloser{}
	tracer := NewTracer(out)

	tracer.Write(TraceEntry{Driver: "runway", Method: "GET", TaskID: "task-1"})
	require.NoError(t, tracer.Close())
	tracer.Write(TraceEntry{Driver: "runway", Method: "GET", TaskID: "task-2"})

	require.True(t, out.closed)
	require.Equal(t, 1, strings.Count(out.String(), "\n"))
	require.Contains(t, out.String(), `"task_id":"task-1"`)

	var nilTracer *Tracer
	nilTracer.Write(TraceEntry{})
	require.NoError(t, nilTracer.Close())
}
