package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/fatih/color"

	"agency/internal/config"
	"agency/internal/dispatch"
	"agency/internal/eventbus"
	"agency/internal/extract"
	"agency/internal/flights"
	"agency/internal/llm"
	"agency/internal/security"
	"agency/internal/tool"
)

var (
	toolColor   = color.New(color.FgGreen)
	resultColor = color.New(color.FgMagenta)
	answerColor = color.New(color.FgCyan, color.Bold)
	errorColor  = color.New(color.FgRed)
)

// App holds the wired components shared by the commands.
type App struct {
	cfg        *config.Config
	bus        *eventbus.Bus
	provider   llm.Provider
	store      *flights.SQLiteStore
	tools      *tool.Registry
	dispatcher *dispatch.Dispatcher
	extractor  *extract.Extractor
	out        io.Writer
}

// NewApp loads the configuration and wires every component. A missing API
// key fails here, before any request is sent.
func NewApp(configPath string, out io.Writer) (*App, error) {
	cfg, err := config.NewLoader(configPath).
		WithSecrets(security.NewKeyStore()).
		Load()
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	store, err := flights.NewSQLiteStore(cfg.Flights.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open flight store: %w", err)
	}
	return newApp(cfg, provider, store, out), nil
}

func newApp(cfg *config.Config, provider llm.Provider, store *flights.SQLiteStore, out io.Writer) *App {
	a := &App{
		cfg:      cfg,
		bus:      eventbus.New(),
		provider: provider,
		store:    store,
		out:      out,
	}
	a.tools = tool.NewRegistry().MustRegister(
		tool.NewTimeTool(nil),
		tool.NewFlightStatusTool(store),
	)
	a.dispatcher = dispatch.New(provider, a.tools, a.bus, cfg.Dispatch)
	a.extractor = extract.New(provider,
		extract.WithModel(cfg.LLM.Model),
		extract.WithTimeout(time.Duration(cfg.Dispatch.CallTimeoutSecs)*time.Second),
	)
	a.subscribe()

	log.Printf("[app] provider=%s model=%s tools=%d", provider.Name(), cfg.LLM.Model, a.tools.Len())
	return a
}

// subscribe prints the tool activity of each dispatch call as it happens.
func (a *App) subscribe() {
	a.bus.Subscribe(eventbus.TopicToolCall, func(e eventbus.Event) {
		ev := e.Payload.(dispatch.ToolCallEvent)
		args, _ := json.Marshal(ev.Args)
		toolColor.Fprintf(a.out, "--- Backend: Executing %s(%s) ---\n", ev.Name, args)
	})
	a.bus.Subscribe(eventbus.TopicToolResult, func(e eventbus.Event) {
		ev := e.Payload.(dispatch.ToolResultEvent)
		resultColor.Fprintf(a.out, "    %s -> %s\n", ev.Name, ev.Result)
	})
	a.bus.Subscribe(eventbus.TopicStateChange, func(e eventbus.Event) {
		ch := e.Payload.(dispatch.StateChange)
		log.Printf("[app] state %s -> %s", ch.From, ch.To)
	})
}

// Ask runs one dispatch call and prints the answer.
func (a *App) Ask(ctx context.Context, prompt string) error {
	res, err := a.dispatcher.Dispatch(ctx, prompt)
	if err != nil {
		return err
	}
	answerColor.Fprintln(a.out, res.Answer)
	log.Printf("[app] round_trips=%d tokens_in=%d tokens_out=%d",
		res.RoundTrips, res.Usage.InputTokens, res.Usage.OutputTokens)
	return nil
}

// Extract prints the structured meeting data found in text.
func (a *App) Extract(ctx context.Context, text string) error {
	data, err := a.extractor.Extract(ctx, text)
	if err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(pretty))
	return nil
}

// Close releases the flight store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
