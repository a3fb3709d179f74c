package feed

import (
	"context"
	"errors"
	"strings"

	"condor-aog/core/fleet"
	"condor-aog/core/incidents"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

// feedActor is the identity feed-originated writes are attributed to. It
// goes through the same capability checks as any human actor.
var feedActor = rbac.SystemActor("flight-ops-feed", rbac.RoleOperationsManager)

// Processor turns feed records into directory and incident writes. One bad
// record never stops the batch. All writes go through the capability-checked
// services, never the stores.
type Processor struct {
	directory *fleet.Directory
	engine    *incidents.Engine
	logger    *utils.Logger
}

func NewProcessor(directory *fleet.Directory, engine *incidents.Engine, logger *utils.Logger) *Processor {
	return &Processor{directory: directory, engine: engine, logger: logger}
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Processed  int
	Dropped    int
	Incidents  int
	Duplicates int
}

func (p *Processor) ProcessBatch(ctx context.Context, batch []Event) BatchResult {
	var res BatchResult
	for _, ev := range batch {
		if err := p.Process(ctx, ev); err != nil {
			switch {
			case errors.Is(err, ErrInvalidPayload):
				res.Dropped++
				p.logger.Warnf("dropped feed record for %q: %v", ev.Registration, err)
			case errors.Is(err, incidents.ErrDuplicateIncident):
				res.Duplicates++
			default:
				res.Dropped++
				p.logger.Errorf("feed record for %q: %v", ev.Registration, err)
			}
			continue
		}
		res.Processed++
		if strings.EqualFold(ev.Status, "aog") {
			res.Incidents++
		}
	}
	return res
}

// Process applies a single record. An aog status opens an incident through
// the lifecycle engine; anything else updates the aircraft's location and
// status in place. Unknown registrations are added to the directory first.
func (p *Processor) Process(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	aircraft, err := p.ensureAircraft(ctx, ev)
	if err != nil {
		return err
	}
	if strings.EqualFold(ev.Status, "aog") {
		_, err := p.engine.ReportAOG(ctx, feedActor, incidents.ReportRequest{
			AircraftID:        aircraft.ID,
			StationCode:       ev.Location,
			Severity:          store.SeverityCritical,
			Issue:             ev.Issue,
			EstimatedRepairAt: ev.EstimatedRepair,
			ReportedAt:        ev.TimeReported,
		})
		if err != nil {
			if errors.Is(err, incidents.ErrDuplicateIncident) {
				p.logger.Debugf("feed aog for %s already open", aircraft.Registration)
			}
			return err
		}
		return nil
	}
	return p.applyMovement(ctx, aircraft, ev)
}

func (p *Processor) ensureAircraft(ctx context.Context, ev Event) (*store.Aircraft, error) {
	aircraft, err := p.directory.AircraftByRegistration(ctx, feedActor, ev.Registration)
	if err == nil {
		return aircraft, nil
	}
	if !errors.Is(err, fleet.ErrAircraftNotFound) {
		return nil, err
	}
	aircraft = &store.Aircraft{
		Registration: ev.Registration,
		Type:         ev.Type,
		StationCode:  strings.ToUpper(strings.TrimSpace(ev.Location)),
		Status:       store.AircraftOperational,
	}
	if _, err := p.directory.AddAircraft(ctx, feedActor, aircraft); err != nil {
		return nil, err
	}
	p.logger.Printf("feed added aircraft %s at %s", aircraft.Registration, aircraft.StationCode)
	return aircraft, nil
}

// applyMovement updates location and the operational/maintenance status of
// an aircraft. It never touches an aog aircraft's status; only incident
// resolution does that.
func (p *Processor) applyMovement(ctx context.Context, aircraft *store.Aircraft, ev Event) error {
	status := aircraft.Status
	switch strings.ToLower(strings.TrimSpace(ev.Status)) {
	case store.AircraftOperational:
		if aircraft.Status != store.AircraftAOG {
			status = store.AircraftOperational
		}
	case store.AircraftMaintenance:
		if aircraft.Status != store.AircraftAOG {
			status = store.AircraftMaintenance
		}
	}
	location := strings.ToUpper(strings.TrimSpace(ev.Location))
	if location == "" {
		location = aircraft.StationCode
	}
	if location == aircraft.StationCode && status == aircraft.Status {
		return nil
	}
	aircraft.StationCode = location
	aircraft.Status = status
	return p.directory.UpdateAircraft(ctx, feedActor, aircraft, aircraft.Version)
}
