package securelog

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Error logs an error without including user-provided data.
// It records the caller location and error type chain; message text and
// translated content never reach the log.
func Error(logger *zap.Logger, context string, err error) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = zap.L()
	}
	fields := []zap.Field{
		zap.String("location", callerLocation(2)),
		Err(err),
	}
	if context != "" {
		fields = append(fields, zap.String("context", context))
	}
	logger.Error("error", fields...)
}

// Err describes err by its type chain only, for use as a zap field.
func Err(err error) zap.Field {
	return zap.String("error_types", strings.Join(errorTypes(err), "->"))
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func errorTypes(err error) []string {
	types := []string{}
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return types
}
