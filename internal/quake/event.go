// Package quake defines the normalized earthquake record shared by the
// fetcher, the marker manager and the renderers.
package quake

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrLatitudeRange  = errors.New("latitude out of range [-90,90]")
	ErrLongitudeRange = errors.New("longitude out of range [-180,180]")
	ErrMagnitude      = errors.New("magnitude must be >= 0")
	ErrMissingID      = errors.New("event id is empty")
)

// Event is a geolocated earthquake. It is a value type: copies never share
// state, and nothing in this module mutates an Event after Validate.
type Event struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Magnitude float64   `json:"magnitude"`
	Depth     float64   `json:"depth,omitempty"`
	Place     string    `json:"place,omitempty"`
	Time      time.Time `json:"time,omitzero"`
}

// Validate checks the coordinate and magnitude bounds.
func (e Event) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if math.IsNaN(e.Latitude) || e.Latitude < -90 || e.Latitude > 90 {
		return fmt.Errorf("%w: %v", ErrLatitudeRange, e.Latitude)
	}
	if math.IsNaN(e.Longitude) || e.Longitude < -180 || e.Longitude > 180 {
		return fmt.Errorf("%w: %v", ErrLongitudeRange, e.Longitude)
	}
	if math.IsNaN(e.Magnitude) || e.Magnitude < 0 {
		return fmt.Errorf("%w: %v", ErrMagnitude, e.Magnitude)
	}
	return nil
}

// Popup returns the plain-text detail shown when a marker is opened.
func (e Event) Popup() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Magnitude: %.1f\n", e.Magnitude)
	fmt.Fprintf(&b, "Latitude: %.4f\n", e.Latitude)
	fmt.Fprintf(&b, "Longitude: %.4f", e.Longitude)
	if e.Place != "" {
		fmt.Fprintf(&b, "\nPlace: %s", e.Place)
	}
	if !e.Time.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", e.Time.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Clone returns a copy of events that shares no backing array with the input.
func Clone(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
