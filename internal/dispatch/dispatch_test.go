package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"agency/internal/config"
	"agency/internal/eventbus"
	"agency/internal/flights"
	"agency/internal/llm"
	"agency/internal/tool"
)

// scriptedProvider answers each Chat call with the next scripted step and
// records a copy of every request.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []llm.ChatRequest
}

type step struct {
	reply llm.Reply
	err   error
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (p *scriptedProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, cp)

	if len(p.steps) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Reply: s.reply, Usage: llm.Usage{InputTokens: 10, OutputTokens: 2}}, nil
}

func text(s string) step { return step{reply: llm.TextReply{Text: s}} }

func calls(cs ...llm.ToolCall) step { return step{reply: llm.ToolCallReply{Calls: cs}} }

func tc(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// counter is a tool that records how often it ran.
type counter struct {
	name string
	out  string
	err  error
	runs int
}

func (c *counter) Spec() tool.Spec { return tool.Spec{Name: c.name, Description: "test tool " + c.name} }

func (c *counter) Execute(_ context.Context, _ tool.Args) (string, error) {
	c.runs++
	return c.out, c.err
}

func newFlightRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	store, err := flights.NewSQLiteStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return time.Date(2025, 12, 19, 14, 5, 0, 0, time.Local) }
	return tool.NewRegistry().MustRegister(
		tool.NewTimeTool(clock),
		tool.NewFlightStatusTool(store),
	)
}

func TestTextReplyIsAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("Hello there.")}}
	d := New(p, newFlightRegistry(t), nil, config.DispatchConfig{})

	res, err := d.Dispatch(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Hello there." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if res.RoundTrips != 1 || len(p.requests) != 1 {
		t.Fatalf("expected 1 round trip, got %d", res.RoundTrips)
	}
	if len(res.ToolCalls) != 0 {
		t.Fatalf("no tools should run, got %+v", res.ToolCalls)
	}

	req := p.requests[0]
	if req.ToolChoice != llm.ToolChoiceAuto {
		t.Fatalf("expected tool choice auto, got %q", req.ToolChoice)
	}
	if len(req.Tools) != 2 || req.Tools[0].Name != "get_time" || req.Tools[1].Name != "get_flight_status" {
		t.Fatalf("expected every registered tool offered, got %+v", req.Tools)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "hi" {
		t.Fatalf("unexpected first conversation: %+v", req.Messages)
	}
}

func TestToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(
			tc("call_1", "get_time", `{}`),
			tc("call_2", "get_flight_status", `{"flight_number":"AI101"}`),
		),
		text("It is 14:05 and AI101 is on time at gate A12."),
	}}
	d := New(p, newFlightRegistry(t), nil, config.DispatchConfig{})

	res, err := d.Dispatch(context.Background(), "what time is it? is flight AI101 on time?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "It is 14:05 and AI101 is on time at gate A12." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
	if res.RoundTrips != 2 {
		t.Fatalf("expected 2 round trips, got %d", res.RoundTrips)
	}
	if res.Usage.InputTokens != 20 {
		t.Fatalf("usage not summed: %+v", res.Usage)
	}

	second := p.requests[1]
	if len(second.Tools) != 0 {
		t.Fatalf("second call must not declare tools, got %+v", second.Tools)
	}
	msgs := second.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected user, assistant and 2 tool messages, got %d", len(msgs))
	}
	if msgs[1].Role != llm.RoleAssistant || len(msgs[1].ToolCalls) != 2 {
		t.Fatalf("assistant turn must carry the raw requests: %+v", msgs[1])
	}

	wantResults := []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "call_1", Name: "get_time", Content: "14:05:00"},
		{Role: llm.RoleTool, ToolCallID: "call_2", Name: "get_flight_status", Content: `{"status":"On Time","gate":"A12","time":"10:30 PM"}`},
	}
	if !reflect.DeepEqual(msgs[2:], wantResults) {
		t.Fatalf("tool results:\n got %+v\nwant %+v", msgs[2:], wantResults)
	}

	if len(res.Messages) != 5 || res.Messages[4].Content != res.Answer {
		t.Fatalf("result conversation should end with the answer: %+v", res.Messages)
	}
	if len(res.ToolCalls) != 2 || res.ToolCalls[1].Args["flight_number"] != "AI101" {
		t.Fatalf("unexpected invocations: %+v", res.ToolCalls)
	}
}

func TestUnknownFlightIsNormalResult(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(tc("call_1", "get_flight_status", `{"flight_number":"ZZ999"}`)),
		text("I could not find flight ZZ999."),
	}}
	d := New(p, newFlightRegistry(t), nil, config.DispatchConfig{})

	res, err := d.Dispatch(context.Background(), "is ZZ999 on time?")
	if err != nil {
		t.Fatal(err)
	}
	got := p.requests[1].Messages[2].Content
	if got != `{"error":"Flight not found"}` {
		t.Fatalf("unexpected tool result %q", got)
	}
	if res.Answer != "I could not find flight ZZ999." {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
}

func TestMalformedArgumentsRunNothing(t *testing.T) {
	first := &counter{name: "first", out: "ok"}
	reg := tool.NewRegistry().MustRegister(first, &counter{name: "second"})

	tests := []struct {
		name string
		args string
	}{
		{"truncated", `{"flight_number":`},
		{"array", `[1,2]`},
		{"scalar", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first.runs = 0
			p := &scriptedProvider{steps: []step{
				calls(tc("call_1", "first", `{}`), tc("call_2", "second", tt.args)),
			}}
			_, err := New(p, reg, nil, config.DispatchConfig{}).Dispatch(context.Background(), "go")

			if !errors.Is(err, ErrMalformedArguments) {
				t.Fatalf("expected ErrMalformedArguments, got %v", err)
			}
			var dErr *Error
			if !errors.As(err, &dErr) || dErr.Stage != StageArguments || dErr.CallID != "call_2" {
				t.Fatalf("unexpected error detail: %#v", err)
			}
			if first.runs != 0 {
				t.Fatal("no tool may run when a later request is malformed")
			}
			if len(p.requests) != 1 {
				t.Fatalf("expected no second round trip, got %d requests", len(p.requests))
			}
		})
	}
}

func TestEmptyArgumentsAccepted(t *testing.T) {
	c := &counter{name: "ping", out: "pong"}
	p := &scriptedProvider{steps: []step{calls(tc("call_1", "ping", ``)), text("done")}}

	res, err := New(p, tool.NewRegistry().MustRegister(c), nil, config.DispatchConfig{}).Dispatch(context.Background(), "ping")
	if err != nil {
		t.Fatal(err)
	}
	if c.runs != 1 || res.ToolCalls[0].Result != "pong" {
		t.Fatalf("expected one run, got %d", c.runs)
	}
}

func TestUnknownToolRunsNothing(t *testing.T) {
	known := &counter{name: "known", out: "ok"}
	p := &scriptedProvider{steps: []step{
		calls(tc("call_1", "known", `{}`), tc("call_2", "launch_rocket", `{}`)),
	}}
	d := New(p, tool.NewRegistry().MustRegister(known), nil, config.DispatchConfig{})

	_, err := d.Dispatch(context.Background(), "go")
	if !errors.Is(err, ErrUnknownTool) || !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("expected ErrUnknownTool wrapping tool.ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "launch_rocket") {
		t.Fatalf("error should name the tool: %v", err)
	}
	if known.runs != 0 {
		t.Fatal("no tool may run when a request names an unknown tool")
	}
}

func TestExecutionFailureStopsRound(t *testing.T) {
	boom := errors.New("store offline")
	a := &counter{name: "a", out: "ok"}
	b := &counter{name: "b", err: boom}
	c := &counter{name: "c", out: "ok"}
	p := &scriptedProvider{steps: []step{
		calls(tc("1", "a", `{}`), tc("2", "b", `{}`), tc("3", "c", `{}`)),
	}}
	d := New(p, tool.NewRegistry().MustRegister(a, b, c), nil, config.DispatchConfig{})

	_, err := d.Dispatch(context.Background(), "go")
	if !errors.Is(err, ErrCapabilityExecution) || !errors.Is(err, boom) {
		t.Fatalf("expected capability error wrapping cause, got %v", err)
	}
	if a.runs != 1 || b.runs != 1 || c.runs != 0 {
		t.Fatalf("expected a and b to run and c to be skipped, got %d %d %d", a.runs, b.runs, c.runs)
	}
	if len(p.requests) != 1 {
		t.Fatalf("expected no second round trip, got %d requests", len(p.requests))
	}
}

func TestToolPanicBecomesExecutionError(t *testing.T) {
	panicky := tool.New(tool.Spec{Name: "panicky"}, func(context.Context, tool.Args) (string, error) {
		panic("nil map")
	})
	p := &scriptedProvider{steps: []step{calls(tc("1", "panicky", `{}`))}}

	_, err := New(p, tool.NewRegistry().MustRegister(panicky), nil, config.DispatchConfig{}).Dispatch(context.Background(), "go")
	if !errors.Is(err, ErrCapabilityExecution) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if !strings.Contains(err.Error(), "nil map") {
		t.Fatalf("panic value missing from %v", err)
	}
}

func TestMissingArgumentIsExecutionError(t *testing.T) {
	p := &scriptedProvider{steps: []step{calls(tc("1", "get_flight_status", `{}`))}}

	_, err := New(p, newFlightRegistry(t), nil, config.DispatchConfig{}).Dispatch(context.Background(), "go")
	if !errors.Is(err, ErrCapabilityExecution) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestTransportErrors(t *testing.T) {
	cause := &llm.LLMError{Type: llm.ErrorRateLimit, Message: "slow down"}

	t.Run("first round", func(t *testing.T) {
		p := &scriptedProvider{steps: []step{{err: cause}}}
		_, err := New(p, newFlightRegistry(t), nil, config.DispatchConfig{}).Dispatch(context.Background(), "hi")
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
		var llmErr *llm.LLMError
		if !errors.As(err, &llmErr) || llmErr.Type != llm.ErrorRateLimit {
			t.Fatalf("LLMError should stay reachable, got %v", err)
		}
		if len(p.requests) != 1 {
			t.Fatalf("transport errors must not be retried, got %d requests", len(p.requests))
		}
	})

	t.Run("second round", func(t *testing.T) {
		c := &counter{name: "ping", out: "pong"}
		p := &scriptedProvider{steps: []step{calls(tc("1", "ping", `{}`)), {err: cause}}}
		_, err := New(p, tool.NewRegistry().MustRegister(c), nil, config.DispatchConfig{}).Dispatch(context.Background(), "hi")
		var dErr *Error
		if !errors.As(err, &dErr) || dErr.Stage != StageTransport || dErr.Round != 2 {
			t.Fatalf("expected round 2 transport error, got %v", err)
		}
		if c.runs != 1 {
			t.Fatal("executed tools are not undone or repeated")
		}
	})
}

func TestSecondToolReplyRejected(t *testing.T) {
	c := &counter{name: "ping", out: "pong"}
	p := &scriptedProvider{steps: []step{
		calls(tc("1", "ping", `{}`)),
		calls(tc("2", "ping", `{}`)),
	}}

	_, err := New(p, tool.NewRegistry().MustRegister(c), nil, config.DispatchConfig{}).Dispatch(context.Background(), "go")
	if !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("expected ErrUnexpectedReply, got %v", err)
	}
	if c.runs != 1 {
		t.Fatalf("second-round requests must not run, got %d runs", c.runs)
	}
	if len(p.requests) != 2 {
		t.Fatalf("expected exactly 2 round trips, got %d", len(p.requests))
	}
}

func TestNoMemoization(t *testing.T) {
	c := &counter{name: "ping", out: "pong"}
	p := &scriptedProvider{steps: []step{
		calls(tc("1", "ping", `{}`), tc("2", "ping", `{}`)),
		text("done"),
	}}

	res, err := New(p, tool.NewRegistry().MustRegister(c), nil, config.DispatchConfig{}).Dispatch(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if c.runs != 2 || len(res.ToolCalls) != 2 {
		t.Fatalf("identical requests must each run, got %d runs", c.runs)
	}
}

func TestRepeatedLookupIsFreshAndIdentical(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		calls(
			tc("call_1", "get_flight_status", `{"flight_number":"AI101"}`),
			tc("call_2", "get_flight_status", `{"flight_number":"AI101"}`),
		),
		text("On time."),
	}}

	res, err := New(p, newFlightRegistry(t), nil, config.DispatchConfig{}).Dispatch(context.Background(), "AI101 twice")
	if err != nil {
		t.Fatal(err)
	}
	results := p.requests[1].Messages[2:]
	if len(results) != 2 || results[0].ToolCallID != "call_1" || results[1].ToolCallID != "call_2" {
		t.Fatalf("expected one result per request, got %+v", results)
	}
	if results[0].Content != results[1].Content {
		t.Fatalf("identical lookups differ: %q vs %q", results[0].Content, results[1].Content)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(res.ToolCalls))
	}
}

func TestCancelledContext(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("never")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(p, newFlightRegistry(t), nil, config.DispatchConfig{}).Dispatch(ctx, "hi")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled transport error, got %v", err)
	}
	if len(p.requests) != 0 {
		t.Fatal("no request should be sent on a cancelled context")
	}
}

// slowProvider blocks until its context ends.
type slowProvider struct{ scriptedProvider }

func (p *slowProvider) Chat(ctx context.Context, _ *llm.ChatRequest) (*llm.Response, error) {
	<-ctx.Done()
	return nil, &llm.LLMError{Type: llm.ErrorTimeout, Message: "request timed out", Err: ctx.Err()}
}

func TestCallTimeout(t *testing.T) {
	d := New(&slowProvider{}, newFlightRegistry(t), nil, config.DispatchConfig{CallTimeoutSecs: 1})

	start := time.Now()
	_, err := d.Dispatch(context.Background(), "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
}

func TestRequestSettings(t *testing.T) {
	p := &scriptedProvider{steps: []step{text("ok")}}
	cfg := config.DispatchConfig{SystemPrompt: "Be brief.", MaxTokens: 256, Temperature: 0.2}

	if _, err := New(p, newFlightRegistry(t), nil, cfg).Dispatch(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	req := p.requests[0]
	if req.SystemPrompt != "Be brief." || req.MaxTokens != 256 || req.Temperature != 0.2 {
		t.Fatalf("settings not forwarded: %+v", req)
	}
}

func recordStates(bus *eventbus.Bus) *[]State {
	var states []State
	bus.Subscribe(eventbus.TopicStateChange, func(e eventbus.Event) {
		states = append(states, e.Payload.(StateChange).To)
	})
	return &states
}

func TestStateSequence(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
		want  []State
	}{
		{
			name:  "text reply",
			steps: []step{text("hi")},
			want:  []State{StateAwaitingFirstResponse, StateDone},
		},
		{
			name:  "tool round",
			steps: []step{calls(tc("1", "get_time", `{}`)), text("it is late")},
			want:  []State{StateAwaitingFirstResponse, StateExecutingTools, StateAwaitingSecondResponse, StateDone},
		},
		{
			name:  "unknown tool",
			steps: []step{calls(tc("1", "nope", `{}`))},
			want:  []State{StateAwaitingFirstResponse, StateExecutingTools, StateFailed},
		},
		{
			name:  "transport",
			steps: []step{{err: errors.New("connection refused")}},
			want:  []State{StateAwaitingFirstResponse, StateFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := eventbus.New()
			states := recordStates(bus)
			p := &scriptedProvider{steps: tt.steps}

			_, _ = New(p, newFlightRegistry(t), bus, config.DispatchConfig{}).Dispatch(context.Background(), "go")
			if !reflect.DeepEqual(*states, tt.want) {
				t.Fatalf("states:\n got %v\nwant %v", *states, tt.want)
			}
		})
	}
}

func TestEventOrder(t *testing.T) {
	bus := eventbus.New()
	var topics []eventbus.Topic
	bus.Subscribe(eventbus.TopicAll, func(e eventbus.Event) {
		if e.Topic != eventbus.TopicStateChange {
			topics = append(topics, e.Topic)
		}
	})
	p := &scriptedProvider{steps: []step{calls(tc("1", "get_time", `{}`)), text("late")}}

	if _, err := New(p, newFlightRegistry(t), bus, config.DispatchConfig{}).Dispatch(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	want := []eventbus.Topic{
		eventbus.TopicLLMRequest, eventbus.TopicLLMResponse,
		eventbus.TopicToolCall, eventbus.TopicToolResult,
		eventbus.TopicLLMRequest, eventbus.TopicLLMResponse,
	}
	if !reflect.DeepEqual(topics, want) {
		t.Fatalf("events:\n got %v\nwant %v", topics, want)
	}
}

func TestConcurrentDispatchesAreIndependent(t *testing.T) {
	reg := newFlightRegistry(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &scriptedProvider{steps: []step{
				calls(tc("1", "get_flight_status", `{"flight_number":"6E502"}`)),
				text("delayed"),
			}}
			res, err := New(p, reg, nil, config.DispatchConfig{}).Dispatch(context.Background(), "6E502?")
			if err != nil {
				errs <- err
				return
			}
			if len(res.Messages) != 4 {
				errs <- errors.New("conversation leaked between calls")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
