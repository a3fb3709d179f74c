package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// StationAll is the reserved sentinel meaning "no station filter". It is
// never a real station code.
const StationAll = "ALL"

// Aircraft operational status vocabulary. Distinct from the incident
// status enumeration: an aircraft is aog while its incident walks through
// reported/assigned/in_progress.
const (
	AircraftOperational = "operational"
	AircraftMaintenance = "maintenance"
	AircraftAOG         = "aog"
)

type Station struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type Aircraft struct {
	ID           string    `json:"id"`
	Registration string    `json:"registration"`
	Type         string    `json:"type"`
	StationCode  string    `json:"station_code"`
	Status       string    `json:"status"`
	Issue        string    `json:"issue,omitempty"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type FleetStore interface {
	ListStations(ctx context.Context) ([]Station, error)
	UpsertStation(ctx context.Context, st *Station) error

	// ListAircraft filters by station code; StationAll disables the filter.
	// Unknown codes return an empty list, never an error.
	ListAircraft(ctx context.Context, stationCode string) ([]Aircraft, error)
	GetAircraft(ctx context.Context, id string) (*Aircraft, error)
	GetAircraftByRegistration(ctx context.Context, registration string) (*Aircraft, error)
	CreateAircraft(ctx context.Context, a *Aircraft) (string, error)
	// UpdateAircraft is a compare-and-set on version; a stale writer gets
	// ErrConflict and no change is applied.
	UpdateAircraft(ctx context.Context, a *Aircraft, expectedVersion int) error
}

type fleetStore struct {
	db *sql.DB
}

func NewFleetStore(db *sql.DB) FleetStore {
	return &fleetStore{db: db}
}

func (s *fleetStore) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, position FROM stations ORDER BY position ASC, code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Station
	for rows.Next() {
		var st Station
		if err := rows.Scan(&st.Code, &st.Name, &st.Position); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (s *fleetStore) UpsertStation(ctx context.Context, st *Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations(code, name, position) VALUES(?,?,?)
		ON CONFLICT (code) DO UPDATE SET name=excluded.name, position=excluded.position`,
		strings.ToUpper(strings.TrimSpace(st.Code)), st.Name, st.Position)
	return err
}

func (s *fleetStore) ListAircraft(ctx context.Context, stationCode string) ([]Aircraft, error) {
	query := `SELECT id, registration, aircraft_type, station_code, status, issue, version, updated_at FROM aircraft`
	var args []any
	code := strings.ToUpper(strings.TrimSpace(stationCode))
	if code != "" && code != StationAll {
		query += ` WHERE station_code=?`
		args = append(args, code)
	}
	query += ` ORDER BY registration ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Aircraft
	for rows.Next() {
		var a Aircraft
		if err := rows.Scan(&a.ID, &a.Registration, &a.Type, &a.StationCode, &a.Status, &a.Issue, &a.Version, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *fleetStore) GetAircraft(ctx context.Context, id string) (*Aircraft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, registration, aircraft_type, station_code, status, issue, version, updated_at
		FROM aircraft WHERE id=?`, id)
	return scanAircraft(row)
}

func (s *fleetStore) GetAircraftByRegistration(ctx context.Context, registration string) (*Aircraft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, registration, aircraft_type, station_code, status, issue, version, updated_at
		FROM aircraft WHERE registration=?`, strings.ToUpper(strings.TrimSpace(registration)))
	return scanAircraft(row)
}

func (s *fleetStore) CreateAircraft(ctx context.Context, a *Aircraft) (string, error) {
	if a.ID == "" {
		a.ID = uuid.Must(uuid.NewV4()).String()
	}
	if a.Status == "" {
		a.Status = AircraftOperational
	}
	if a.Version <= 0 {
		a.Version = 1
	}
	a.Registration = strings.ToUpper(strings.TrimSpace(a.Registration))
	a.StationCode = strings.ToUpper(strings.TrimSpace(a.StationCode))
	now := time.Now().UTC()
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aircraft(id, registration, aircraft_type, station_code, status, issue, version, updated_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		a.ID, a.Registration, a.Type, a.StationCode, a.Status, a.Issue, a.Version, now)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *fleetStore) UpdateAircraft(ctx context.Context, a *Aircraft, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE aircraft SET aircraft_type=?, station_code=?, status=?, issue=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		a.Type, strings.ToUpper(strings.TrimSpace(a.StationCode)), a.Status, a.Issue, now, a.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = now
	return nil
}

func scanAircraft(row *sql.Row) (*Aircraft, error) {
	var a Aircraft
	if err := row.Scan(&a.ID, &a.Registration, &a.Type, &a.StationCode, &a.Status, &a.Issue, &a.Version, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
