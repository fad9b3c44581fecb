package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
	"github.com/gifmotion/gifmotion/internal/metrics"
	"github.com/gifmotion/gifmotion/internal/observability"
)

const testImage = "data:image/png;base64,iVBORw0KGgo="

// fakeDriver replays scripted responses and records calls.
type fakeDriver struct {
	mu sync.Mutex

	submitTask *driver.Task
	submitErr  error

	// statuses are returned in order; the last one repeats.
	statuses []*driver.Task
	getErr   error

	submits  []*driver.VideoRequest
	getCalls int
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) SubmitImageToVideo(_ context.Context, req *driver.VideoRequest) (*driver.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitTask != nil {
		return f.submitTask, nil
	}
	return &driver.Task{ID: "task-1", Status: driver.TaskPending}, nil
}

func (f *fakeDriver) GetTask(_ context.Context, id string) (*driver.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.statuses) == 0 {
		return &driver.Task{ID: id, Status: driver.TaskPending}, nil
	}
	idx := f.getCalls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

// recordingWait counts waits without sleeping.
type recordingWait struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingWait) Wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestGenerator(drv driver.VideoDriver) (*Generator, *recordingWait) {
	w := &recordingWait{}
	return &Generator{
		Driver: drv,
		Images: &ImageResolver{},
		Policy: DefaultPolicy,
		Wait:   w.Wait,
	}, w
}

func task(status driver.TaskStatus, outputs ...string) *driver.Task {
	raw, _ := json.Marshal(map[string]any{"id": "task-1", "status": status, "output": outputs})
	return &driver.Task{ID: "task-1", Status: status, Outputs: outputs, Raw: raw}
}

func TestGenerateSucceedsWithRemoteOutput(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{
		task(driver.TaskPending),
		task(driver.TaskProcessing),
		task(driver.TaskSucceeded, "https://cdn.example/video.mp4"),
	}}
	g, w := newTestGenerator(drv)

	result, err := g.Generate(context.Background(), testImage, "gentle ocean waves")
	require.NoError(t, err)
	require.Equal(t, "task-1", result.ID)
	require.Equal(t, "SUCCEEDED", result.Status)
	require.Equal(t, "https://cdn.example/video.mp4", result.Output.VideoURL)
	require.Equal(t, 3, result.Attempts)
	require.Len(t, w.waits, 3)

	require.Len(t, drv.submits, 1)
	submitted := drv.submits[0]
	assert.Equal(t, testImage, submitted.PromptImage)
	assert.Equal(t, "gentle ocean waves", submitted.PromptText)
	assert.Equal(t, driver.DefaultParameters, submitted.Parameters)
}

func TestGenerateResultJSONShape(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{task(driver.TaskSucceeded, "https://cdn.example/v.mp4")}}
	g, _ := newTestGenerator(drv)

	result, err := g.Generate(context.Background(), testImage, "p")
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"task-1","status":"SUCCEEDED","output":{"video_url":"https://cdn.example/v.mp4"}}`, string(data))
}

func TestGenerateTimesOutAfterExactlyMaxAttempts(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{task(driver.TaskProcessing)}}
	g, w := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTaskTimeout))
	require.Equal(t, "Task timed out after 5 minutes", err.Error())

	require.Equal(t, 30, drv.getCalls)
	require.Len(t, w.waits, 30)
	for _, d := range w.waits {
		require.Equal(t, 10*time.Second, d)
	}
}

func TestGenerateSucceededWithoutOutputKeepsPolling(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{
		task(driver.TaskSucceeded),
		task(driver.TaskSucceeded, "https://cdn.example/late.mp4"),
	}}
	g, _ := newTestGenerator(drv)

	result, err := g.Generate(context.Background(), testImage, "p")
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, "https://cdn.example/late.mp4", result.Output.VideoURL)
}

func TestGenerateUnknownStatusIsNonTerminal(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{
		task("THROTTLED"),
		task("RUNNING"),
		task(driver.TaskSucceeded, "https://cdn.example/v.mp4"),
	}}
	g, _ := newTestGenerator(drv)

	result, err := g.Generate(context.Background(), testImage, "p")
	require.NoError(t, err)
	require.Equal(t, 3, result.Attempts)
}

func TestGenerateRemoteFailure(t *testing.T) {
	failed := &driver.Task{
		ID:      "task-1",
		Status:  driver.TaskFailed,
		Failure: "content moderation",
		Raw:     json.RawMessage(`{"id":"task-1","status":"FAILED","failure":"content moderation"}`),
	}
	drv := &fakeDriver{statuses: []*driver.Task{task(driver.TaskPending), failed}}
	g, _ := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRemoteTaskFailed))
	require.Equal(t, `Task processing failed: {"id":"task-1","status":"FAILED","failure":"content moderation"}`, err.Error())
	require.Equal(t, 2, drv.getCalls)

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, "task-1", gerr.TaskID)
}

func TestGenerateSubmissionFailed(t *testing.T) {
	drv := &fakeDriver{submitErr: &driver.ProviderError{
		Provider:   "fake",
		StatusCode: 401,
		Message:    `{"error":"bad key"}`,
	}}
	g, w := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSubmissionFailed))
	require.Equal(t, `API Error: {"error":"bad key"}`, err.Error())
	require.Zero(t, drv.getCalls)
	require.Empty(t, w.waits)
}

func TestGenerateMissingTaskID(t *testing.T) {
	drv := &fakeDriver{submitTask: &driver.Task{Raw: json.RawMessage(`{"status":"PENDING"}`)}}
	g, _ := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformedSubmissionResponse))
	require.Equal(t, "No task ID in response", err.Error())
	require.Zero(t, drv.getCalls)
}

func TestGenerateUndecodableSubmission(t *testing.T) {
	drv := &fakeDriver{submitErr: driver.ErrMalformedResponse}
	g, _ := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.True(t, errors.Is(err, ErrMalformedSubmissionResponse))
}

func TestGenerateStatusCheckFailed(t *testing.T) {
	drv := &fakeDriver{getErr: &driver.ProviderError{Provider: "fake", StatusCode: 503, Message: "unavailable"}}
	g, w := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStatusCheckFailed))
	require.Equal(t, "Failed to check task status", err.Error())
	require.Equal(t, 1, drv.getCalls)
	require.Len(t, w.waits, 1)
}

func TestGenerateInvalidImage(t *testing.T) {
	drv := &fakeDriver{}
	g, _ := newTestGenerator(drv)

	_, err := g.Generate(context.Background(), "ftp://example.com/cat.png", "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidImageFormat))
	require.Equal(t, "Invalid image format", err.Error())
	require.Empty(t, drv.submits)
}

func TestGenerateCancelledDuringWait(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{task(driver.TaskProcessing)}}
	ctx, cancel := context.WithCancel(context.Background())

	g := &Generator{
		Driver: drv,
		Policy: Policy{Interval: time.Hour, MaxAttempts: 30},
		Wait: func(ctx context.Context, d time.Duration) error {
			if drv.getCalls == 2 {
				cancel()
			}
			return ctx.Err()
		},
	}

	_, err := g.Generate(ctx, testImage, "p")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 2, drv.getCalls)

	var gerr *Error
	require.False(t, errors.As(err, &gerr))
}

func TestGenerateCancelledBeforeStart(t *testing.T) {
	drv := &fakeDriver{}
	g, _ := newTestGenerator(drv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, testImage, "p")
	require.True(t, errors.Is(err, context.Canceled))
	require.Empty(t, drv.submits)
}

func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestGeneratePolicyOverrides(t *testing.T) {
	drv := &fakeDriver{statuses: []*driver.Task{task(driver.TaskPending)}}
	g, w := newTestGenerator(drv)
	g.Policy = Policy{Interval: 2 * time.Second, MaxAttempts: 3}
	g.Model = "gen3a_turbo"
	g.Parameters = driver.Parameters{DurationSeconds: 10, OutputFormat: "mp4", FPS: 24, MotionBucketID: 127, CondAug: 0.02}

	_, err := g.Generate(context.Background(), testImage, "p")
	require.True(t, errors.Is(err, ErrTaskTimeout))
	require.Equal(t, "Task timed out after 6s", err.Error())
	require.Len(t, w.waits, 3)
	require.Equal(t, 10, drv.submits[0].Parameters.DurationSeconds)
	require.Equal(t, "gen3a_turbo", drv.submits[0].Model)
}

func TestGenerateRecordsMetrics(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	drv := &fakeDriver{statuses: []*driver.Task{
		task(driver.TaskPending),
		task(driver.TaskSucceeded, "https://cdn.example/v.mp4"),
	}}
	g, _ := newTestGenerator(drv)

	_, err = g.Generate(context.Background(), testImage, "p")
	require.NoError(t, err)

	assert.Equal(t, 1, collector.CountMetricsByName(metrics.GenerationSubmissionsTotal))
	assert.Equal(t, 2, collector.CountMetricsByName(metrics.GenerationPollsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(metrics.GenerationOutcomesTotal))
	assert.Greater(t, collector.CountMetricsByName(metrics.GenerationDuration), 0)
}

func TestOutcomeOf(t *testing.T) {
	require.Equal(t, "succeeded", outcomeOf(nil))
	require.Equal(t, "task_timeout", outcomeOf(&Error{Kind: KindTaskTimeout}))
	require.Equal(t, "cancelled", outcomeOf(cancelled("t", context.Canceled)))
	require.Equal(t, "error", outcomeOf(errors.New("boom")))
}

func TestHumanDuration(t *testing.T) {
	require.Equal(t, "5 minutes", humanDuration(5*time.Minute))
	require.Equal(t, "1 minute", humanDuration(time.Minute))
	require.Equal(t, "1m30s", humanDuration(90*time.Second))
}
