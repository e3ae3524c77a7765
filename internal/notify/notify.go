// Package notify publishes terminal observation events.
package notify

import (
	"context"
	"time"

	"github.com/menta2k/lensclip/pkg/types"
)

// Event is published when an observation reaches ready or failed
type Event struct {
	ObservationID string       `json:"observationId"`
	OwnerID       string       `json:"ownerId"`
	Status        types.Status `json:"status"`
	Title         string       `json:"title,omitempty"`
	Category      string       `json:"category,omitempty"`
	Error         string       `json:"error,omitempty"`
	At            time.Time    `json:"at"`
}

// EventFor builds the event describing o
func EventFor(o *types.Observation, at time.Time) Event {
	e := Event{
		ObservationID: o.ID,
		OwnerID:       o.OwnerID,
		Status:        o.Status,
		Category:      o.Category,
		Error:         o.ErrorMessage,
		At:            at.UTC(),
	}
	if o.Identification != nil {
		e.Title = o.Identification.Title
	}
	return e
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Noop discards every event
type Noop struct{}

// Publish implements Publisher
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher
func (Noop) Close() {}
