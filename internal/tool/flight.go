package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agency/internal/flights"
)

// FlightStatusTool looks up the status and gate of a flight.
type FlightStatusTool struct {
	store flights.Store
}

var _ Tool = (*FlightStatusTool)(nil)

func NewFlightStatusTool(store flights.Store) *FlightStatusTool {
	return &FlightStatusTool{store: store}
}

func (t *FlightStatusTool) Spec() Spec {
	return Spec{
		Name:        "get_flight_status",
		Description: "Get the current status and gate info for a specific flight number",
		Parameters: map[string]Param{
			"flight_number": {
				Type:        "string",
				Description: "The flight number, e.g. AI101",
			},
		},
		Required: []string{"flight_number"},
	}
}

// Execute answers unknown flights with an error payload rather than a Go
// error: for the model, "not found" is a regular answer.
func (t *FlightStatusTool) Execute(ctx context.Context, args Args) (string, error) {
	number, err := args.String("flight_number")
	if err != nil {
		return "", err
	}

	st, err := t.store.Lookup(ctx, number)
	if errors.Is(err, flights.ErrNotFound) {
		return `{"error":"Flight not found"}`, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", number, err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
