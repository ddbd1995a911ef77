// Package weather provides current weather reports for a location.
package weather

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrEmptyLocation is returned when no location is given.
var ErrEmptyLocation = errors.New("location must not be empty")

// Report is a current weather observation.
type Report struct {
	Location    string
	Temperature string
	Condition   string
	Humidity    string
	Wind        string
}

// Provider returns current weather for a location.
type Provider interface {
	Current(ctx context.Context, location string) (Report, error)
}

// Simulated is a Provider returning a fixed report for every location.
type Simulated struct{}

var _ Provider = Simulated{}

// Current implements Provider.
func (Simulated) Current(_ context.Context, location string) (Report, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Report{}, ErrEmptyLocation
	}
	return Report{
		Location:    location,
		Temperature: "72°F",
		Condition:   "Sunny",
		Humidity:    "45%",
		Wind:        "5 mph",
	}, nil
}
