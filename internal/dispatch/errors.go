package dispatch

import (
	"errors"
	"fmt"
)

// Stage identifies where a dispatch call failed.
type Stage int

const (
	StageTransport   Stage = iota + 1 // a round trip to the completion service failed
	StageArguments                    // a tool argument blob did not parse
	StageUnknownTool                  // the model named a tool the registry lacks
	StageExecution                    // a tool returned an error or panicked
	StageReply                        // the service answered with something unusable
)

var (
	ErrTransport           = errors.New("transport error")
	ErrMalformedArguments  = errors.New("malformed tool arguments")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrCapabilityExecution = errors.New("tool execution failed")
	ErrUnexpectedReply     = errors.New("unexpected reply")
)

func (s Stage) sentinel() error {
	switch s {
	case StageTransport:
		return ErrTransport
	case StageArguments:
		return ErrMalformedArguments
	case StageUnknownTool:
		return ErrUnknownTool
	case StageExecution:
		return ErrCapabilityExecution
	default:
		return ErrUnexpectedReply
	}
}

func (s Stage) String() string {
	switch s {
	case StageTransport:
		return "transport"
	case StageArguments:
		return "arguments"
	case StageUnknownTool:
		return "unknown_tool"
	case StageExecution:
		return "execution"
	case StageReply:
		return "reply"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Error is returned by Dispatch for every failure. errors.Is matches it
// against the sentinel of its stage and against the underlying cause.
type Error struct {
	Stage  Stage
	Round  int    // 1 or 2
	Tool   string // set for tool stages
	CallID string // set for tool stages
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch: %s (round %d)", e.Stage.sentinel(), e.Round)
	if e.Tool != "" {
		msg += fmt.Sprintf(" tool %s [%s]", e.Tool, e.CallID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Stage.sentinel()}
	}
	return []error{e.Stage.sentinel(), e.Err}
}
