package tool

import (
	"context"
	"time"
)

// TimeTool reports the current local time.
type TimeTool struct {
	now func() time.Time
}

var _ Tool = (*TimeTool)(nil)

// NewTimeTool creates a TimeTool. A nil now uses time.Now.
func NewTimeTool(now func() time.Time) *TimeTool {
	if now == nil {
		now = time.Now
	}
	return &TimeTool{now: now}
}

func (t *TimeTool) Spec() Spec {
	return Spec{
		Name:        "get_time",
		Description: "Get the current time",
	}
}

func (t *TimeTool) Execute(_ context.Context, _ Args) (string, error) {
	return t.now().Format("15:04:05"), nil
}
