package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a local capability the model may ask to run.
type Tool interface {
	Spec() Spec
	// Execute runs the capability with parsed arguments. A returned error is
	// a capability failure; results the tool considers normal, including
	// "not found" style answers, come back as the string.
	Execute(ctx context.Context, args Args) (string, error)
}

// Spec declares a tool to the model.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]Param
	Required    []string
}

// Param describes one named argument.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema renders the parameters as a JSON Schema object.
func (s Spec) Schema() json.RawMessage {
	props := s.Parameters
	if props == nil {
		props = map[string]Param{}
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	data, _ := json.Marshal(struct {
		Type       string           `json:"type"`
		Properties map[string]Param `json:"properties"`
		Required   []string         `json:"required"`
	}{"object", props, required})
	return data
}

// Args holds the arguments of one invocation, keyed by parameter name.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", name, v)
	}
	return s, nil
}

// ParseArgs decodes a JSON argument blob. An empty blob or null means no
// arguments; anything that is not a JSON object is rejected.
func ParseArgs(raw json.RawMessage) (Args, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	spec Spec
	fn   func(ctx context.Context, args Args) (string, error)
}

var _ Tool = (*Func)(nil)

// New wraps fn as a tool described by spec.
func New(spec Spec, fn func(ctx context.Context, args Args) (string, error)) *Func {
	return &Func{spec: spec, fn: fn}
}

func (f *Func) Spec() Spec { return f.spec }

func (f *Func) Execute(ctx context.Context, args Args) (string, error) {
	return f.fn(ctx, args)
}
