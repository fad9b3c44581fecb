package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/ailink"
)

// osExit is replaced in tests.
var osExit = os.Exit

// ExitWithCode logs err with the foundry metadata for exitCode and exits.
// A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok || logger == nil {
		writeFatal(os.Stderr, exitCode, msg, err)
		osExit(int(exitCode))
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	fields = append(fields, errorFields(err)...)
	logger.Error(msg, fields...)
	osExit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before any logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	writeFatal(os.Stderr, exitCode, msg, err)
	osExit(int(exitCode))
}

// ExitCodeFor maps a command error onto a foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return 0
	}
	if errors.Is(err, errConfig) {
		return foundry.ExitConfigInvalid
	}
	if errors.Is(err, os.ErrNotExist) {
		return foundry.ExitFileNotFound
	}
	var genErr *ailink.Error
	if errors.As(err, &genErr) && genErr.Kind != ailink.KindInvalidImageFormat {
		return foundry.ExitExternalServiceUnavailable
	}
	return foundry.ExitFailure
}

func errorFields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	var fields []zap.Field
	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	var genErr *ailink.Error
	if errors.As(err, &genErr) {
		fields = append(fields, zap.String("generation_error", genErr.Code()))
		if genErr.TaskID != "" {
			fields = append(fields, zap.String("task_id", genErr.TaskID))
		}
	}
	return append(fields, zap.Error(err))
}

func writeFatal(w io.Writer, exitCode foundry.ExitCode, msg string, err error) {
	var envelope *gferrors.ErrorEnvelope
	switch {
	case errors.As(err, &envelope):
		fmt.Fprintf(w, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if original, ok := envelope.Original.(error); ok && original != nil {
			fmt.Fprintf(w, "Underlying error: %v\n", original)
		}
	case err != nil:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	default:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	}

	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	} else {
		fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
	}
}
