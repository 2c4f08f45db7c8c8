// Package errors turns error values into normalized class names for
// metric and log tagging.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/craftfolio/mailroom/internal/errors"
)

// Classify returns a normalized error class suitable for tagging. AppError
// values classify by their code; everything else falls back to the innermost
// concrete type name.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
