// Package flights is the mock backend the flight status tool reads from.
package flights

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("flight not found")

// Status is the public state of one flight.
type Status struct {
	Status string `json:"status"`
	Gate   string `json:"gate"`
	Time   string `json:"time"`
}

// Store looks flights up by number.
type Store interface {
	// Lookup returns ErrNotFound for unknown flight numbers.
	Lookup(ctx context.Context, number string) (*Status, error)
	Close() error
}

// Seed is the data every new store starts with.
var Seed = map[string]Status{
	"AI101": {Status: "On Time", Gate: "A12", Time: "10:30 PM"},
	"6E502": {Status: "Delayed", Gate: "B3", Time: "11:45 PM"},
}
