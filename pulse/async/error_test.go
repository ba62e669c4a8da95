package async

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/missionctl/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       string
		code      ErrorCode
		retryable bool
	}{
		{"openrouter: status 429: slow down", ErrorCodeQuota, false},
		{"monthly quota exceeded", ErrorCodeQuota, false},
		{"context deadline exceeded", ErrorCodeTimeout, true},
		{"open /x: no such file or directory", ErrorCodeFileNotFound, false},
		{"failed to unmarshal response", ErrorCodeParseError, false},
		{"dial tcp: connection refused", ErrorCodeNetworkError, true},
		{"model not found", ErrorCodeAIError, true},
		{"mystery", ErrorCodeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			ec := ClassifyError("llm", errors.New(tt.err))
			assert.Equal(t, tt.code, ec.Code)
			assert.Equal(t, tt.retryable, ec.Retryable)
			assert.Equal(t, "llm", ec.Stage)
		})
	}

	assert.Equal(t, ErrorCodeUnknown, ClassifyError("x", nil).Code)
}

func TestOutcomeForError(t *testing.T) {
	quota := OutcomeForError("completion", errors.New("status 429"))
	assert.Equal(t, OutcomeQuotaExhausted, quota.Status)

	failed := OutcomeForError("completion", errors.New("connection reset"))
	assert.Equal(t, OutcomeFailed, failed.Status)
	assert.Equal(t, "completion: connection reset", failed.Error)
}
