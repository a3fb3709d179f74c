package feed

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidPayload marks a feed record that cannot be processed. Invalid
// records are dropped and logged; the batch keeps going.
var ErrInvalidPayload = errors.New("invalid feed payload")

// Event is one record from the external flight operations feed.
type Event struct {
	Flight          string     `json:"flight"`
	Registration    string     `json:"registration"`
	Type            string     `json:"type"`
	Location        string     `json:"location"`
	Status          string     `json:"status"`
	Issue           string     `json:"issue"`
	TimeReported    time.Time  `json:"time_reported"`
	EstimatedRepair *time.Time `json:"estimated_repair,omitempty"`
}

// Validate checks the minimum the processor needs. An aog record without
// an issue description is as useless as one without a registration.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Registration) == "" {
		return errors.Join(ErrInvalidPayload, errors.New("registration missing"))
	}
	if strings.TrimSpace(e.Status) == "" {
		return errors.Join(ErrInvalidPayload, errors.New("status missing"))
	}
	if strings.EqualFold(e.Status, "aog") && strings.TrimSpace(e.Issue) == "" {
		return errors.Join(ErrInvalidPayload, errors.New("aog record without issue"))
	}
	return nil
}
