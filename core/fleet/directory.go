package fleet

import (
	"context"
	"errors"
	"strings"

	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

var ErrAircraftNotFound = errors.New("aircraft not found")

// Directory is the read/write surface over stations and aircraft. All
// operations are capability-checked against the acting role.
type Directory struct {
	fleet  store.FleetStore
	policy *rbac.Policy
	audits store.AuditStore
	logger *utils.Logger
}

func NewDirectory(fleet store.FleetStore, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *Directory {
	return &Directory{fleet: fleet, policy: policy, audits: audits, logger: logger}
}

func (d *Directory) Stations(ctx context.Context, actor rbac.Actor) ([]store.Station, error) {
	if err := d.policy.Require(actor, rbac.CapViewFleet); err != nil {
		return nil, err
	}
	return d.fleet.ListStations(ctx)
}

// AircraftByStation lists aircraft at a station. store.StationAll lifts the
// filter; an unknown code yields an empty list, never an error.
func (d *Directory) AircraftByStation(ctx context.Context, actor rbac.Actor, stationCode string) ([]store.Aircraft, error) {
	if err := d.policy.Require(actor, rbac.CapViewFleet); err != nil {
		return nil, err
	}
	return d.fleet.ListAircraft(ctx, stationCode)
}

func (d *Directory) AircraftByID(ctx context.Context, actor rbac.Actor, id string) (*store.Aircraft, error) {
	if err := d.policy.Require(actor, rbac.CapViewFleet); err != nil {
		return nil, err
	}
	a, err := d.fleet.GetAircraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAircraftNotFound
	}
	return a, nil
}

func (d *Directory) AircraftByRegistration(ctx context.Context, actor rbac.Actor, registration string) (*store.Aircraft, error) {
	if err := d.policy.Require(actor, rbac.CapViewFleet); err != nil {
		return nil, err
	}
	a, err := d.fleet.GetAircraftByRegistration(ctx, registration)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAircraftNotFound
	}
	return a, nil
}

func (d *Directory) AddAircraft(ctx context.Context, actor rbac.Actor, a *store.Aircraft) (string, error) {
	if err := d.policy.Require(actor, rbac.CapManageAircraft); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Registration) == "" {
		return "", errors.New("registration required")
	}
	id, err := d.fleet.CreateAircraft(ctx, a)
	if err != nil {
		return "", err
	}
	d.audits.Log(ctx, actor.UserID, "aircraft.create", a.Registration)
	return id, nil
}

// UpdateAircraft applies a compare-and-set write; a stale version surfaces
// store.ErrConflict untouched so callers can refetch and retry.
func (d *Directory) UpdateAircraft(ctx context.Context, actor rbac.Actor, a *store.Aircraft, expectedVersion int) error {
	if err := d.policy.Require(actor, rbac.CapManageAircraft); err != nil {
		return err
	}
	if err := d.fleet.UpdateAircraft(ctx, a, expectedVersion); err != nil {
		return err
	}
	d.audits.Log(ctx, actor.UserID, "aircraft.update", a.Registration)
	return nil
}

func (d *Directory) UpsertStation(ctx context.Context, actor rbac.Actor, st *store.Station) error {
	if err := d.policy.Require(actor, rbac.CapManageAircraft); err != nil {
		return err
	}
	if strings.TrimSpace(st.Code) == "" {
		return errors.New("station code required")
	}
	if strings.EqualFold(strings.TrimSpace(st.Code), store.StationAll) {
		return errors.New("station code is reserved")
	}
	return d.fleet.UpsertStation(ctx, st)
}
