package async

import (
	"strings"
)

// ErrorCode represents the classification of an engine error
type ErrorCode string

const (
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeQuota           ErrorCode = "quota_exhausted"
	ErrorCodeAIError         ErrorCode = "ai_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Worth an auto-retry?
}

// ClassifyError categorizes an error based on its message and stage
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:   stage,
			Code:    ErrorCodeUnknown,
			Message: "unknown error",
		}
	}

	errMsg := err.Error()
	errLower := strings.ToLower(errMsg)

	ctx := ErrorContext{
		Stage:   stage,
		Message: errMsg,
	}

	// Order matters: quota before network (429 bodies often mention the connection)
	switch {
	case strings.Contains(errLower, "status 429") || strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "rate limit") || strings.Contains(errLower, "insufficient credits"):
		ctx.Code = ErrorCodeQuota
		ctx.Retryable = false

	case strings.Contains(errLower, "deadline exceeded") || strings.Contains(errLower, "timed out"):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	case strings.Contains(errLower, "no such file") || strings.Contains(errLower, "file not found"):
		ctx.Code = ErrorCodeFileNotFound
		ctx.Retryable = false

	case strings.Contains(errLower, "parse") || strings.Contains(errLower, "unmarshal") || strings.Contains(errLower, "invalid json"):
		ctx.Code = ErrorCodeParseError
		ctx.Retryable = false

	case strings.Contains(errLower, "network") || strings.Contains(errLower, "connection") || strings.Contains(errLower, "timeout"):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true

	case strings.Contains(errLower, "database") || strings.Contains(errLower, "sql"):
		ctx.Code = ErrorCodeDatabaseError
		ctx.Retryable = true

	case strings.Contains(errLower, "validation") || strings.Contains(errLower, "invalid"):
		ctx.Code = ErrorCodeValidationError
		ctx.Retryable = false

	case strings.Contains(errLower, "model") || strings.Contains(errLower, "llm") || strings.Contains(errLower, "completion"):
		ctx.Code = ErrorCodeAIError
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}

	return ctx
}

// OutcomeForError maps an engine error onto an outcome. Quota exhaustion
// pauses the job; everything else fails it with the classified message.
func OutcomeForError(stage string, err error) Outcome {
	ec := ClassifyError(stage, err)
	if ec.Code == ErrorCodeQuota {
		return Outcome{Status: OutcomeQuotaExhausted, Error: ec.Message}
	}
	return FailedOutcome("%s: %s", stage, ec.Message)
}
