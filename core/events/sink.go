package events

import (
	"context"
	"time"
)

// Event is a domain notification fanned out to sinks. Delivery is
// best-effort and asynchronous; producers never block on it.
type Event struct {
	Kind       string            `json:"kind"`
	IncidentID string            `json:"incident_id,omitempty"`
	AircraftID string            `json:"aircraft_id,omitempty"`
	Station    string            `json:"station,omitempty"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	At         time.Time         `json:"at"`
}

const (
	KindIncidentReported = "incident.reported"
	KindIncidentAssigned = "incident.assigned"
	KindIncidentAdvanced = "incident.advanced"
	KindIncidentResolved = "incident.resolved"
	KindIncidentUpdate   = "incident.update"
	KindDefectReported   = "defect.reported"
	KindDefectDeferred   = "defect.deferred"
)

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
