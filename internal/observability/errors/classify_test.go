package errors

import (
	goerrors "errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/craftfolio/mailroom/internal/errors"
)

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
}

func TestClassifyAppErrorUsesCode(t *testing.T) {
	assert.Equal(t, "configuration", Classify(apperrors.Configuration("no brand")))
	assert.Equal(t, "validation", Classify(apperrors.Validation("bad input")))

	wrapped := fmt.Errorf("processing job: %w", apperrors.NotFound("gone"))
	assert.Equal(t, "not_found", Classify(wrapped))
}

func TestClassifyFallsBackToTypeName(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp"}
	assert.Equal(t, "net_operror", Classify(fmt.Errorf("send: %w", opErr)))

	assert.Equal(t, "errors_errorstring", Classify(goerrors.New("plain")))
}
