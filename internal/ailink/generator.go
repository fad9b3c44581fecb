package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
	"github.com/gifmotion/gifmotion/internal/metrics"
	"github.com/gifmotion/gifmotion/internal/observability"
)

// Generator submits one image-to-video task and polls it to completion.
//
// A Generator holds no per-request state and is safe for concurrent use.
type Generator struct {
	Driver     driver.VideoDriver
	Images     *ImageResolver
	Policy     Policy
	Model      string
	Parameters driver.Parameters

	// Wait blocks for d or until ctx is done. Nil uses a timer.
	Wait func(ctx context.Context, d time.Duration) error

	// Logger defaults to observability.ActiveLogger().
	Logger *logging.Logger
}

// Generate normalizes image, creates a remote task for it and prompt, then
// polls until the task succeeds, fails, or the poll budget runs out.
//
// Failures are *Error values. Cancelling ctx aborts the wait or in-flight call
// and returns an error wrapping ctx.Err().
func (g *Generator) Generate(ctx context.Context, image, prompt string) (*Result, error) {
	if g == nil || g.Driver == nil {
		return nil, errors.New("generator driver not configured")
	}

	ctx, span := observability.Tracer().Start(ctx, "generation.generate",
		trace.WithAttributes(attribute.String("generation.driver", g.Driver.Name())))
	defer span.End()

	start := time.Now()
	result, err := g.run(ctx, image, prompt)
	outcome := outcomeOf(err)
	metrics.RecordOutcome(outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("generation.task_id", result.ID),
		attribute.Int("generation.attempts", result.Attempts),
	)
	return result, nil
}

func (g *Generator) run(ctx context.Context, image, prompt string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled("", err)
	}

	resolved, err := g.resolver().Resolve(ctx, image)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled("", ctxErr)
		}
		g.warn("Rejected image payload",
			zap.String("image", driver.Abbreviate(strings.TrimSpace(image), 30)),
			zap.Error(err))
		return nil, &Error{Kind: KindInvalidImageFormat, Detail: err.Error(), Err: err}
	}

	taskID, err := g.submit(ctx, resolved, prompt)
	if err != nil {
		return nil, err
	}

	return g.poll(ctx, taskID)
}

func (g *Generator) submit(ctx context.Context, image, prompt string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "generation.submit")
	defer span.End()

	task, err := g.Driver.SubmitImageToVideo(ctx, &driver.VideoRequest{
		Model:       g.Model,
		PromptImage: image,
		PromptText:  prompt,
		Parameters:  g.parameters(),
	})
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", cancelled("", ctxErr)
		}
		if errors.Is(err, driver.ErrMalformedResponse) {
			metrics.RecordSubmission("malformed")
			g.warn("Task submission returned an unreadable body", zap.Error(err))
			return "", &Error{Kind: KindMalformedSubmissionResponse, Err: err}
		}

		metrics.RecordSubmission("rejected")
		g.warn("Task submission failed",
			zap.String("reason", providerReason(err)),
			zap.Error(err))
		return "", mapProviderError(KindSubmissionFailed, "", err)
	}

	if task == nil || task.ID == "" {
		metrics.RecordSubmission("malformed")
		g.warn("Task submission response has no task id")
		malformed := &Error{Kind: KindMalformedSubmissionResponse}
		if task != nil {
			malformed.Raw = captureRaw(task.Raw)
		}
		return "", malformed
	}

	metrics.RecordSubmission("accepted")
	span.SetAttributes(attribute.String("generation.task_id", task.ID))
	g.info("Generation task created",
		zap.String("task_id", task.ID),
		zap.String("driver", g.Driver.Name()))
	return task.ID, nil
}

func (g *Generator) poll(ctx context.Context, taskID string) (*Result, error) {
	policy := g.policy()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := g.wait(ctx, policy.Interval); err != nil {
			return nil, cancelled(taskID, err)
		}

		task, err := g.check(ctx, taskID, attempt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cancelled(taskID, ctxErr)
			}
			metrics.RecordPoll("error")
			g.warn("Task status check failed",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempt),
				zap.String("reason", providerReason(err)),
				zap.Error(err))
			return nil, mapProviderError(KindStatusCheckFailed, taskID, err)
		}

		metrics.RecordPoll(strings.ToLower(string(task.Status)))
		g.debug("Task status",
			zap.String("task_id", taskID),
			zap.Int("attempt", attempt),
			zap.String("status", string(task.Status)))

		switch task.Status {
		case driver.TaskSucceeded:
			output := task.OutputURL()
			if output == "" {
				continue
			}
			g.info("Generation task succeeded",
				zap.String("task_id", taskID),
				zap.Int("attempts", attempt))
			return &Result{
				ID:       taskID,
				Status:   string(driver.TaskSucceeded),
				Output:   Output{VideoURL: output},
				Attempts: attempt,
			}, nil
		case driver.TaskFailed:
			g.warn("Generation task failed",
				zap.String("task_id", taskID),
				zap.Int("attempts", attempt),
				zap.String("failure", task.Failure),
				zap.String("failure_code", task.FailureCode))
			return nil, &Error{
				Kind:   KindRemoteTaskFailed,
				TaskID: taskID,
				Detail: failureDetail(task),
				Raw:    captureRaw(task.Raw),
			}
		}
	}

	budget := humanDuration(policy.Budget())
	g.warn("Generation task timed out",
		zap.String("task_id", taskID),
		zap.Int("attempts", policy.MaxAttempts),
		zap.String("budget", budget))
	return nil, &Error{Kind: KindTaskTimeout, TaskID: taskID, Detail: budget}
}

func (g *Generator) check(ctx context.Context, taskID string, attempt int) (*driver.Task, error) {
	ctx, span := observability.Tracer().Start(ctx, "generation.poll",
		trace.WithAttributes(
			attribute.String("generation.task_id", taskID),
			attribute.Int("generation.attempt", attempt),
		))
	defer span.End()

	task, err := g.Driver.GetTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status check failed")
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: empty task", driver.ErrMalformedResponse)
	}
	span.SetAttributes(attribute.String("generation.status", string(task.Status)))
	return task, nil
}

func (g *Generator) resolver() *ImageResolver {
	if g.Images != nil {
		return g.Images
	}
	return &ImageResolver{}
}

func (g *Generator) parameters() driver.Parameters {
	if g.Parameters == (driver.Parameters{}) {
		return driver.DefaultParameters
	}
	return g.Parameters
}

func (g *Generator) policy() Policy {
	p := g.Policy
	if p.Interval <= 0 {
		p.Interval = DefaultPolicy.Interval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	return p
}

func (g *Generator) wait(ctx context.Context, d time.Duration) error {
	if g.Wait != nil {
		return g.Wait(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (g *Generator) logger() *logging.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return observability.ActiveLogger()
}

func (g *Generator) debug(msg string, fields ...zap.Field) {
	if l := g.logger(); l != nil {
		l.Debug(msg, fields...)
	}
}

func (g *Generator) info(msg string, fields ...zap.Field) {
	if l := g.logger(); l != nil {
		l.Info(msg, fields...)
	}
}

func (g *Generator) warn(msg string, fields ...zap.Field) {
	if l := g.logger(); l != nil {
		l.Warn(msg, fields...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelled(taskID string, err error) error {
	if taskID == "" {
		return fmt.Errorf("generation cancelled: %w", err)
	}
	return fmt.Errorf("generation cancelled (task %s): %w", taskID, err)
}

// failureDetail returns the remote task payload, or the failure text when
// there is none.
func failureDetail(task *driver.Task) string {
	if len(task.Raw) > 0 {
		return string(task.Raw)
	}
	if task.Failure != "" {
		return task.Failure
	}
	return string(task.Status)
}

func outcomeOf(err error) string {
	if err == nil {
		return "succeeded"
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return strings.ToLower(string(gerr.Kind))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
