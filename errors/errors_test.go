package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "claim job %s", "abc")

	assert.Contains(t, wrapped.Error(), "claim job abc")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHintAndDetail(t *testing.T) {
	err := WithHint(New("database locked"), "raise busy_timeout")
	err = WithDetail(err, "Job ID: abc")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "raise busy_timeout", hints[0])
	assert.Contains(t, GetAllDetails(err), "Job ID: abc")
}

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		invalid     bool
		conflict    bool
		wantMessage string
	}{
		{"not found", NewNotFoundError("job %s", "j1"), true, false, false, "job j1"},
		{"invalid", NewInvalidRequestError("bad status %q", "zzz"), false, true, false, `bad status "zzz"`},
		{"conflict", NewConflictError("job %s moved", "j2"), false, false, true, "job j2 moved"},
		{"wrapped twice", Wrap(NewNotFoundError("agent"), "route"), true, false, false, "route"},
		{"nil", nil, false, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFoundError(tt.err))
			assert.Equal(t, tt.invalid, IsInvalidRequestError(tt.err))
			assert.Equal(t, tt.conflict, IsConflictError(tt.err))
			if tt.err != nil {
				assert.Contains(t, tt.err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestStackTraceInVerboseFormat(t *testing.T) {
	err := Wrap(New("boom"), "sweep rule")
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}
