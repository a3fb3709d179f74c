package defects

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
	// ErrInvalidDeferral rejects a deferral whose until date is not in the
	// future, or one requested on a resolved defect.
	ErrInvalidDeferral = errors.New("invalid deferral")

	ErrDefectNotFound = errors.New("defect not found")

	// ErrInvalidStatusChange rejects backward moves on the open ->
	// in_progress -> resolved path. Reopening a deferred defect goes through
	// Reopen, never UpdateStatus.
	ErrInvalidStatusChange = errors.New("invalid defect status change")
)

var defectRank = map[string]int{
	store.DefectOpen:       0,
	store.DefectInProgress: 1,
	store.DefectResolved:   2,
}

// Ledger tracks non-grounding technical defects per aircraft, including
// MEL-style deferrals with an explicit reference and expiry.
type Ledger struct {
	defects store.DefectsStore
	fleet   store.FleetStore
	policy  *rbac.Policy
	audits  store.AuditStore
	events  *events.Dispatcher
	logger  *utils.Logger
}

func NewLedger(defects store.DefectsStore, fleet store.FleetStore, policy *rbac.Policy, audits store.AuditStore, dispatcher *events.Dispatcher, logger *utils.Logger) *Ledger {
	return &Ledger{
		defects: defects,
		fleet:   fleet,
		policy:  policy,
		audits:  audits,
		events:  dispatcher,
		logger:  logger,
	}
}

type ReportRequest struct {
	AircraftID  string
	Description string
	System      string
	Subsystem   string
	ATAChapter  string
	Priority    string
}

func (l *Ledger) Report(ctx context.Context, actor rbac.Actor, req ReportRequest) (*store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapManageDefects); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.New("description required")
	}
	aircraft, err := l.fleet.GetAircraft(ctx, req.AircraftID)
	if err != nil {
		return nil, err
	}
	if aircraft == nil {
		return nil, errors.New("aircraft not found")
	}
	d := &store.Defect{
		AircraftID:  aircraft.ID,
		Description: req.Description,
		System:      req.System,
		Subsystem:   req.Subsystem,
		ATAChapter:  req.ATAChapter,
		Priority:    req.Priority,
		ReportedBy:  actor.UserID,
	}
	if _, err := l.defects.CreateDefect(ctx, d); err != nil {
		return nil, err
	}
	l.audits.Log(ctx, actor.UserID, "defect.report", d.ID)
	l.events.Emit(events.Event{
		Kind:       events.KindDefectReported,
		AircraftID: d.AircraftID,
		Message:    d.Description,
		Fields:     map[string]string{"priority": d.Priority, "registration": aircraft.Registration},
	})
	return d, nil
}

// UpdateStatus moves a defect forward along open -> in_progress ->
// resolved. Resolving requires a resolution note. Deferred defects must be
// reopened first.
func (l *Ledger) UpdateStatus(ctx context.Context, actor rbac.Actor, defectID, target, note string) (*store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapManageDefects); err != nil {
		return nil, err
	}
	d, err := l.defects.GetDefect(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDefectNotFound
	}
	if d.Status == store.DefectDeferred {
		return nil, fmt.Errorf("%w: defect is deferred, reopen it first", ErrInvalidStatusChange)
	}
	fromRank, okFrom := defectRank[d.Status]
	toRank, okTo := defectRank[target]
	if !okFrom || !okTo || toRank <= fromRank {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, d.Status, target)
	}
	if target == store.DefectResolved {
		if strings.TrimSpace(note) == "" {
			return nil, errors.New("resolution note required")
		}
		now := time.Now().UTC()
		d.ResolvedAt = &now
		d.ResolutionNote = note
	}
	d.Status = target
	if target == store.DefectInProgress && d.AssignedTo == "" {
		d.AssignedTo = actor.UserID
	}
	if err := l.defects.UpdateDefect(ctx, d, d.Version); err != nil {
		return nil, err
	}
	l.audits.Log(ctx, actor.UserID, "defect.status", fmt.Sprintf("%s -> %s", defectID, target))
	return d, nil
}

// Defer parks an open or in-progress defect under a deferral reference
// until a future date. Repeating a deferral with the same reference and
// date is a no-op; anything not strictly in the future is
// ErrInvalidDeferral.
func (l *Ledger) Defer(ctx context.Context, actor rbac.Actor, defectID, deferralRef string, until time.Time) (*store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapDeferDefect); err != nil {
		return nil, err
	}
	if strings.TrimSpace(deferralRef) == "" {
		return nil, fmt.Errorf("%w: deferral reference required", ErrInvalidDeferral)
	}
	if !until.After(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: until date must be in the future", ErrInvalidDeferral)
	}
	d, err := l.defects.GetDefect(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDefectNotFound
	}
	until = until.UTC()
	if d.Status == store.DefectDeferred {
		if d.DeferralRef == deferralRef && d.DeferredUntil != nil && d.DeferredUntil.Equal(until) {
			return d, nil
		}
		return nil, fmt.Errorf("%w: already deferred under %s", ErrInvalidDeferral, d.DeferralRef)
	}
	if d.Status == store.DefectResolved {
		return nil, fmt.Errorf("%w: defect is resolved", ErrInvalidDeferral)
	}
	d.Status = store.DefectDeferred
	d.DeferralRef = deferralRef
	d.DeferredUntil = &until
	if err := l.defects.UpdateDefect(ctx, d, d.Version); err != nil {
		return nil, err
	}
	l.audits.Log(ctx, actor.UserID, "defect.defer", fmt.Sprintf("%s until %s", defectID, until.Format(time.RFC3339)))
	l.events.Emit(events.Event{
		Kind:       events.KindDefectDeferred,
		AircraftID: d.AircraftID,
		Message:    d.Description,
		Fields:     map[string]string{"deferral_ref": deferralRef, "until": until.Format(time.RFC3339)},
	})
	return d, nil
}

// Reopen returns a deferred defect to open. The expiry of deferred_until
// never reopens a defect on its own; someone has to call this.
func (l *Ledger) Reopen(ctx context.Context, actor rbac.Actor, defectID string) (*store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapManageDefects); err != nil {
		return nil, err
	}
	d, err := l.defects.GetDefect(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDefectNotFound
	}
	if d.Status != store.DefectDeferred {
		return nil, fmt.Errorf("%w: only deferred defects can be reopened, defect is %s", ErrInvalidStatusChange, d.Status)
	}
	d.Status = store.DefectOpen
	d.DeferralRef = ""
	d.DeferredUntil = nil
	if err := l.defects.UpdateDefect(ctx, d, d.Version); err != nil {
		return nil, err
	}
	l.audits.Log(ctx, actor.UserID, "defect.reopen", defectID)
	return d, nil
}

func (l *Ledger) Get(ctx context.Context, actor rbac.Actor, defectID string) (*store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapViewDefects); err != nil {
		return nil, err
	}
	d, err := l.defects.GetDefect(ctx, defectID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDefectNotFound
	}
	return d, nil
}

func (l *Ledger) ListForAircraft(ctx context.Context, actor rbac.Actor, aircraftID, status string) ([]store.Defect, error) {
	if err := l.policy.Require(actor, rbac.CapViewDefects); err != nil {
		return nil, err
	}
	return l.defects.ListForAircraft(ctx, aircraftID, status)
}
