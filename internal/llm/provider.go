package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider is the interface all completion backends must implement.
type Provider interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)

	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string

	// DefaultModel returns the default model for this provider.
	DefaultModel() string
}

// LLMError wraps an error with a classification.
type LLMError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *LLMError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request could succeed later.
func (e *LLMError) Retryable() bool {
	switch e.Type {
	case ErrorAuth, ErrorInvalidInput, ErrorCanceled:
		return false
	default:
		return true
	}
}

// classify maps an SDK error onto an ErrorType. Context errors win over the
// message text because SDKs often wrap them in generic transport errors.
func classify(err error, rules []classifyRule) *LLMError {
	msg := err.Error()
	llmErr := &LLMError{Err: err, Message: msg}

	if errors.Is(err, context.Canceled) {
		llmErr.Type = ErrorCanceled
		return llmErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		llmErr.Type = ErrorTimeout
		return llmErr
	}

	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				llmErr.Type = r.typ
				return llmErr
			}
		}
	}
	llmErr.Type = ErrorUnknown
	return llmErr
}

type classifyRule struct {
	typ     ErrorType
	needles []string
}
