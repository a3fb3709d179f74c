package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"condor-aog/core/events"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

var (
	// ErrDuplicateIncident means the aircraft already has an open incident.
	// The concrete error carries the existing incident id.
	ErrDuplicateIncident = errors.New("duplicate incident")

	// ErrInvalidTransition rejects any status move that is not strictly
	// forward, and any move out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrIncidentNotFound = errors.New("incident not found")
)

// DuplicateIncidentError carries the id of the open incident that blocked
// a new report. errors.Is(err, ErrDuplicateIncident) matches it.
type DuplicateIncidentError struct {
	ExistingID string
}

func (e *DuplicateIncidentError) Error() string {
	return fmt.Sprintf("duplicate incident: aircraft already has open incident %s", e.ExistingID)
}

func (e *DuplicateIncidentError) Is(target error) bool {
	return target == ErrDuplicateIncident
}

// statusRank orders the forward path. Terminal statuses have no outgoing
// edges except that cancel is reachable from any non-terminal status.
var statusRank = map[string]int{
	store.IncidentReported:   0,
	store.IncidentAssigned:   1,
	store.IncidentInProgress: 2,
	store.IncidentResolved:   3,
}

// ReportRequest describes a new AOG report. Registration resolution and
// aircraft auto-creation for feed traffic happen before the engine is
// called.
type ReportRequest struct {
	AircraftID        string
	StationCode       string
	Severity          string
	Issue             string
	ATAChapter        string
	EstimatedRepairAt *time.Time
	ReportedAt        time.Time
}

// Engine owns the incident lifecycle: single open incident per aircraft,
// strictly forward status moves, team assignment and the incident chat.
type Engine struct {
	incidents store.IncidentsStore
	fleet     store.FleetStore
	chat      store.ChatStore
	policy    *rbac.Policy
	audits    store.AuditStore
	events    *events.Dispatcher
	logger    *utils.Logger
}

func NewEngine(incidents store.IncidentsStore, fleet store.FleetStore, chat store.ChatStore, policy *rbac.Policy, audits store.AuditStore, dispatcher *events.Dispatcher, logger *utils.Logger) *Engine {
	return &Engine{
		incidents: incidents,
		fleet:     fleet,
		chat:      chat,
		policy:    policy,
		audits:    audits,
		events:    dispatcher,
		logger:    logger,
	}
}

// ReportAOG opens an incident for the aircraft, flips it to aog and creates
// the incident chat channel. A second report for the same aircraft returns
// the existing incident id inside ErrDuplicateIncident and changes nothing.
func (e *Engine) ReportAOG(ctx context.Context, actor rbac.Actor, req ReportRequest) (*store.Incident, error) {
	if err := e.policy.Require(actor, rbac.CapCreateAOG); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Issue) == "" {
		return nil, errors.New("issue description required")
	}
	aircraft, err := e.fleet.GetAircraft(ctx, req.AircraftID)
	if err != nil {
		return nil, err
	}
	if aircraft == nil {
		return nil, errors.New("aircraft not found")
	}
	station := strings.ToUpper(strings.TrimSpace(req.StationCode))
	if station == "" {
		station = aircraft.StationCode
	}
	inc := &store.Incident{
		AircraftID:        aircraft.ID,
		StationCode:       station,
		Severity:          req.Severity,
		Issue:             req.Issue,
		ATAChapter:        req.ATAChapter,
		EstimatedRepairAt: req.EstimatedRepairAt,
		ReportedAt:        req.ReportedAt,
		CreatedBy:         actor.UserID,
		UpdatedBy:         actor.UserID,
	}
	created, err := e.incidents.CreateIncident(ctx, inc)
	if err != nil {
		if errors.Is(err, store.ErrOpenIncidentExists) && created != nil {
			return nil, &DuplicateIncidentError{ExistingID: created.ID}
		}
		return nil, err
	}
	ch, err := e.chat.EnsureChannel(ctx, created.ID)
	if err != nil {
		e.logger.Errorf("chat channel for incident %s: %v", created.ID, err)
	} else {
		if stored, err := e.incidents.AttachChannel(ctx, created.ID, ch.ID); err != nil {
			e.logger.Errorf("attach channel to incident %s: %v", created.ID, err)
		} else {
			created.ChannelID = &stored
		}
	}
	e.audits.Log(ctx, actor.UserID, "aog.report", created.ID)
	e.events.Emit(events.Event{
		Kind:       events.KindIncidentReported,
		IncidentID: created.ID,
		AircraftID: created.AircraftID,
		Station:    created.StationCode,
		Message:    created.Issue,
		Fields:     map[string]string{"severity": created.Severity, "registration": aircraft.Registration},
	})
	return created, nil
}

// AssignTeam appends staff ids to the incident team. Already-assigned ids
// are skipped, so repeating an assignment is a no-op. The first non-empty
// assignment moves a reported incident to assigned.
func (e *Engine) AssignTeam(ctx context.Context, actor rbac.Actor, incidentID string, staffIDs []string) (*store.Incident, error) {
	if err := e.policy.Require(actor, rbac.CapAssignTeam); err != nil {
		return nil, err
	}
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if store.IncidentTerminal(inc.Status) {
		return nil, fmt.Errorf("%w: cannot assign on %s incident", ErrInvalidTransition, inc.Status)
	}
	existing := map[string]struct{}{}
	for _, id := range inc.AssignedStaff {
		existing[id] = struct{}{}
	}
	added := 0
	for _, id := range staffIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		existing[id] = struct{}{}
		inc.AssignedStaff = append(inc.AssignedStaff, id)
		added++
	}
	if added == 0 {
		return inc, nil
	}
	if inc.Status == store.IncidentReported {
		inc.Status = store.IncidentAssigned
	}
	inc.UpdatedBy = actor.UserID
	if err := e.incidents.UpdateIncident(ctx, inc, inc.Version); err != nil {
		return nil, err
	}
	e.audits.Log(ctx, actor.UserID, "aog.assign", incidentID)
	e.events.Emit(events.Event{
		Kind:       events.KindIncidentAssigned,
		IncidentID: inc.ID,
		AircraftID: inc.AircraftID,
		Station:    inc.StationCode,
		Message:    fmt.Sprintf("%d staff assigned", len(inc.AssignedStaff)),
	})
	return inc, nil
}

// AdvanceRequest moves an incident forward. AircraftStatus is consulted
// only when the target is resolved: it names the status the aircraft
// returns to (operational or maintenance, defaulting to operational).
type AdvanceRequest struct {
	IncidentID     string
	Target         string
	AircraftStatus string
	Note           string
}

// Advance moves the incident strictly forward, or cancels it from any
// non-terminal status. Backward moves and moves out of a terminal status
// return ErrInvalidTransition and leave the incident unchanged.
func (e *Engine) Advance(ctx context.Context, actor rbac.Actor, req AdvanceRequest) (*store.Incident, error) {
	if err := e.policy.Require(actor, rbac.CapAdvanceStatus); err != nil {
		return nil, err
	}
	switch req.Target {
	case store.IncidentResolved:
		if err := e.policy.Require(actor, rbac.CapResolveAOG); err != nil {
			return nil, err
		}
	case store.IncidentCancelled:
		if err := e.policy.Require(actor, rbac.CapCancelAOG); err != nil {
			return nil, err
		}
	}
	inc, err := e.incidents.GetIncident(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if store.IncidentTerminal(inc.Status) {
		return nil, fmt.Errorf("%w: incident is %s", ErrInvalidTransition, inc.Status)
	}
	if req.Target == store.IncidentCancelled {
		return e.terminate(ctx, actor, inc, store.IncidentCancelled, aircraftReturnStatus(req.AircraftStatus))
	}
	fromRank, okFrom := statusRank[inc.Status]
	toRank, okTo := statusRank[req.Target]
	if !okFrom || !okTo || toRank <= fromRank {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, req.Target)
	}
	if req.Target == store.IncidentResolved {
		return e.terminate(ctx, actor, inc, store.IncidentResolved, aircraftReturnStatus(req.AircraftStatus))
	}
	inc.Status = req.Target
	inc.UpdatedBy = actor.UserID
	if err := e.incidents.UpdateIncident(ctx, inc, inc.Version); err != nil {
		return nil, err
	}
	e.audits.Log(ctx, actor.UserID, "aog.advance", fmt.Sprintf("%s -> %s", req.IncidentID, req.Target))
	e.events.Emit(events.Event{
		Kind:       events.KindIncidentAdvanced,
		IncidentID: inc.ID,
		AircraftID: inc.AircraftID,
		Station:    inc.StationCode,
		Message:    inc.Status,
	})
	return inc, nil
}

func (e *Engine) terminate(ctx context.Context, actor rbac.Actor, inc *store.Incident, target, aircraftStatus string) (*store.Incident, error) {
	now := time.Now().UTC()
	inc.Status = target
	inc.ResolvedAt = &now
	inc.UpdatedBy = actor.UserID
	if err := e.incidents.ResolveIncident(ctx, inc, inc.Version, aircraftStatus); err != nil {
		return nil, err
	}
	e.audits.Log(ctx, actor.UserID, "aog."+target, inc.ID)
	e.events.Emit(events.Event{
		Kind:       events.KindIncidentResolved,
		IncidentID: inc.ID,
		AircraftID: inc.AircraftID,
		Station:    inc.StationCode,
		Message:    target,
		Fields:     map[string]string{"aircraft_status": aircraftStatus},
	})
	return inc, nil
}

func aircraftReturnStatus(requested string) string {
	if requested == store.AircraftMaintenance {
		return store.AircraftMaintenance
	}
	return store.AircraftOperational
}

// PostUpdate appends a progress message to the incident chat and bumps the
// incident's update counter.
func (e *Engine) PostUpdate(ctx context.Context, actor rbac.Actor, incidentID, body string) (*store.Message, error) {
	if err := e.policy.Require(actor, rbac.CapJoinChat); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("message body required")
	}
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	if store.IncidentTerminal(inc.Status) {
		return nil, fmt.Errorf("%w: incident is %s", ErrInvalidTransition, inc.Status)
	}
	ch, err := e.chat.EnsureChannel(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	msg := &store.Message{
		ChannelID: ch.ID,
		AuthorID:  actor.UserID,
		Body:      body,
	}
	if err := e.chat.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.incidents.IncrementUpdates(ctx, incidentID); err != nil {
		e.logger.Warnf("update counter for incident %s: %v", incidentID, err)
	}
	e.events.Emit(events.Event{
		Kind:       events.KindIncidentUpdate,
		IncidentID: inc.ID,
		AircraftID: inc.AircraftID,
		Station:    inc.StationCode,
		Message:    body,
	})
	return msg, nil
}

func (e *Engine) Get(ctx context.Context, actor rbac.Actor, incidentID string) (*store.Incident, error) {
	if err := e.policy.Require(actor, rbac.CapViewAOG); err != nil {
		return nil, err
	}
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	return inc, nil
}

func (e *Engine) List(ctx context.Context, actor rbac.Actor, filter store.IncidentFilter) ([]store.Incident, error) {
	if err := e.policy.Require(actor, rbac.CapViewAOG); err != nil {
		return nil, err
	}
	return e.incidents.ListIncidents(ctx, filter)
}

// Messages returns the incident chat transcript.
func (e *Engine) Messages(ctx context.Context, actor rbac.Actor, incidentID string, limit int) ([]store.Message, error) {
	if err := e.policy.Require(actor, rbac.CapViewAOG); err != nil {
		return nil, err
	}
	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncidentNotFound
	}
	ch, err := e.chat.EnsureChannel(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return e.chat.ListMessages(ctx, ch.ID, limit)
}
