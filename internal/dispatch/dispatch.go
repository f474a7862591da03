// Package dispatch answers one user request with at most two round trips to
// the completion service, running the local tools the model asks for in
// between.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"agency/internal/config"
	"agency/internal/eventbus"
	"agency/internal/llm"
	"agency/internal/tool"
)

// ToolCallEvent is published before a tool runs.
type ToolCallEvent struct {
	ID   string
	Name string
	Args tool.Args
}

// ToolResultEvent is published after a tool returns successfully.
type ToolResultEvent struct {
	ID     string
	Name   string
	Result string
}

// Invocation records one executed tool call.
type Invocation struct {
	ID     string
	Name   string
	Args   tool.Args
	Result string
}

// Result is the outcome of a successful dispatch call.
type Result struct {
	Answer     string
	Messages   []llm.Message // full conversation, including the final assistant turn
	ToolCalls  []Invocation
	RoundTrips int
	Usage      llm.Usage
}

// Dispatcher is safe for concurrent use. Each call builds its own
// conversation; the registry is only read.
type Dispatcher struct {
	provider llm.Provider
	tools    *tool.Registry
	bus      *eventbus.Bus
	cfg      config.DispatchConfig
}

// New creates a dispatcher. bus may be nil.
func New(provider llm.Provider, tools *tool.Registry, bus *eventbus.Bus, cfg config.DispatchConfig) *Dispatcher {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Dispatcher{
		provider: provider,
		tools:    tools,
		bus:      bus,
		cfg:      cfg,
	}
}

// call tracks the state of one Dispatch invocation.
type call struct {
	d        *Dispatcher
	state    State
	messages []llm.Message
	result   Result
}

func (c *call) transition(to State) {
	from := c.state
	c.state = to
	c.d.bus.Publish(eventbus.TopicStateChange, StateChange{From: from, To: to})
}

func (c *call) fail(err *Error) error {
	log.Printf("[dispatch] %v", err)
	c.d.bus.Publish(eventbus.TopicError, err)
	c.transition(StateFailed)
	return err
}

// Dispatch sends userText to the model with every registered tool offered.
// A plain text reply is the answer. A tool-call reply is executed locally and
// the results go back in a second round trip without tool declarations, whose
// text is the answer.
func (d *Dispatcher) Dispatch(ctx context.Context, userText string) (*Result, error) {
	c := &call{
		d:        d,
		messages: []llm.Message{{Role: llm.RoleUser, Content: userText}},
	}

	c.transition(StateAwaitingFirstResponse)
	first, err := d.roundTrip(ctx, c, &llm.ChatRequest{
		Tools:      d.tools.Definitions(),
		ToolChoice: llm.ToolChoiceAuto,
	})
	if err != nil {
		return nil, c.fail(&Error{Stage: StageTransport, Round: 1, Err: err})
	}

	var calls []llm.ToolCall
	switch r := first.Reply.(type) {
	case llm.TextReply:
		return c.finish(r.Text), nil
	case llm.ToolCallReply:
		calls = r.Calls
		c.messages = append(c.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   r.Text,
			ToolCalls: calls,
		})
	default:
		return nil, c.fail(&Error{Stage: StageReply, Round: 1, Err: fmt.Errorf("reply type %T", first.Reply)})
	}

	c.transition(StateExecutingTools)
	if err := c.runTools(ctx, calls); err != nil {
		return nil, c.fail(err)
	}

	c.transition(StateAwaitingSecondResponse)
	second, err := d.roundTrip(ctx, c, &llm.ChatRequest{})
	if err != nil {
		return nil, c.fail(&Error{Stage: StageTransport, Round: 2, Err: err})
	}

	switch r := second.Reply.(type) {
	case llm.TextReply:
		return c.finish(r.Text), nil
	case llm.ToolCallReply:
		return nil, c.fail(&Error{
			Stage: StageReply,
			Round: 2,
			Err:   fmt.Errorf("%d tool call(s) requested after tool results", len(r.Calls)),
		})
	default:
		return nil, c.fail(&Error{Stage: StageReply, Round: 2, Err: fmt.Errorf("reply type %T", second.Reply)})
	}
}

// roundTrip sends the current conversation under the per-call timeout.
func (d *Dispatcher) roundTrip(ctx context.Context, c *call, req *llm.ChatRequest) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cfg.CallTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.cfg.CallTimeoutSecs)*time.Second)
		defer cancel()
	}

	req.Messages = append([]llm.Message(nil), c.messages...)
	req.SystemPrompt = d.cfg.SystemPrompt
	req.MaxTokens = d.cfg.MaxTokens
	req.Temperature = d.cfg.Temperature

	d.bus.Publish(eventbus.TopicLLMRequest, req)
	resp, err := d.provider.Chat(ctx, req)
	c.result.RoundTrips++
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Reply == nil {
		return nil, fmt.Errorf("empty response from %s", d.provider.Name())
	}
	c.result.Usage.Add(resp.Usage)
	d.bus.Publish(eventbus.TopicLLMResponse, resp)
	return resp, nil
}

type resolved struct {
	call llm.ToolCall
	tool tool.Tool
	args tool.Args
}

// runTools validates every request before running any of them, then runs
// them in order. A failing tool stops the round; tools that already ran are
// not undone.
func (c *call) runTools(ctx context.Context, calls []llm.ToolCall) *Error {
	plan := make([]resolved, 0, len(calls))
	for _, tc := range calls {
		args, err := tool.ParseArgs(tc.Arguments)
		if err != nil {
			return &Error{Stage: StageArguments, Round: 1, Tool: tc.Name, CallID: tc.ID, Err: err}
		}
		t, err := c.d.tools.Get(tc.Name)
		if err != nil {
			return &Error{Stage: StageUnknownTool, Round: 1, Tool: tc.Name, CallID: tc.ID, Err: err}
		}
		plan = append(plan, resolved{call: tc, tool: t, args: args})
	}

	for _, p := range plan {
		c.d.bus.Publish(eventbus.TopicToolCall, ToolCallEvent{ID: p.call.ID, Name: p.call.Name, Args: p.args})
		log.Printf("[dispatch] executing %s(%s)", p.call.Name, p.call.Arguments)

		out, err := execute(ctx, p.tool, p.args)
		if err != nil {
			return &Error{Stage: StageExecution, Round: 1, Tool: p.call.Name, CallID: p.call.ID, Err: err}
		}

		c.d.bus.Publish(eventbus.TopicToolResult, ToolResultEvent{ID: p.call.ID, Name: p.call.Name, Result: out})
		c.messages = append(c.messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    out,
			ToolCallID: p.call.ID,
			Name:       p.call.Name,
		})
		c.result.ToolCalls = append(c.result.ToolCalls, Invocation{
			ID:     p.call.ID,
			Name:   p.call.Name,
			Args:   p.args,
			Result: out,
		})
	}
	return nil
}

func execute(ctx context.Context, t tool.Tool, args tool.Args) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Execute(ctx, args)
}

func (c *call) finish(answer string) *Result {
	c.messages = append(c.messages, llm.Message{Role: llm.RoleAssistant, Content: answer})
	c.result.Answer = answer
	c.result.Messages = c.messages
	c.transition(StateDone)
	return &c.result
}
