// Package extract turns free-form meeting notes into a JSON object with the
// participants, the meeting date and the action items.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"agency/internal/llm"
)

// ErrInvalidOutput is returned when the model does not answer with a JSON object.
var ErrInvalidOutput = errors.New("model output is not a JSON object")

const promptTemplate = `You are a backend data parser. Extract the following information from the text:
- Participants (names)
- Meeting Date (convert to YYYY-MM-DD)
- Action Items (task description and who is assigned)

Return the output ONLY as a valid JSON object.
Today's date is %s

Text: "%s"`

// Extractor asks the model for structured meeting data.
type Extractor struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	now      func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(e *Extractor) { e.model = model }
}

// WithTimeout bounds the single round trip.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithClock sets the source of "today" in the prompt.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prompt renders the instruction sent for text.
func (e *Extractor) Prompt(text string) string {
	return fmt.Sprintf(promptTemplate, e.now().Format("2006-01-02"), text)
}

// Extract sends text as a single system message in JSON mode and decodes
// the reply. The fields are not validated.
func (e *Extractor) Extract(ctx context.Context, text string) (map[string]any, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.provider.Chat(ctx, &llm.ChatRequest{
		Model:    e.model,
		Messages: []llm.Message{{Role: llm.RoleSystem, Content: e.Prompt(text)}},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	reply, ok := resp.Reply.(llm.TextReply)
	if !ok {
		return nil, fmt.Errorf("extract: %w: got %T", ErrInvalidOutput, resp.Reply)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply.Text)), &data); err != nil {
		log.Printf("[extract] undecodable output: %.200s", reply.Text)
		return nil, fmt.Errorf("extract: %w: %v", ErrInvalidOutput, err)
	}
	if data == nil {
		return nil, fmt.Errorf("extract: %w: null", ErrInvalidOutput)
	}
	return data, nil
}
