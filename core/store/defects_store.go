package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Defect status vocabulary. Deferral is reachable from open and in_progress;
// reopening a deferred defect is explicit, never automatic.
const (
	DefectOpen       = "open"
	DefectInProgress = "in_progress"
	DefectDeferred   = "deferred"
	DefectResolved   = "resolved"
)

const (
	DefectPriorityCritical = "critical"
	DefectPriorityHigh     = "high"
	DefectPriorityMedium   = "medium"
	DefectPriorityLow      = "low"
)

type Defect struct {
	ID             string     `json:"id"`
	AircraftID     string     `json:"aircraft_id"`
	Description    string     `json:"description"`
	System         string     `json:"system,omitempty"`
	Subsystem      string     `json:"subsystem,omitempty"`
	ATAChapter     string     `json:"ata_chapter,omitempty"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	ReportedBy     string     `json:"reported_by"`
	ReportedAt     time.Time  `json:"reported_at"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	DeferralRef    string     `json:"deferral_ref,omitempty"`
	DeferredUntil  *time.Time `json:"deferred_until,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int        `json:"version"`
}

type DefectsStore interface {
	CreateDefect(ctx context.Context, d *Defect) (string, error)
	GetDefect(ctx context.Context, id string) (*Defect, error)
	// ListForAircraft returns newest first; an empty status means no filter.
	ListForAircraft(ctx context.Context, aircraftID, status string) ([]Defect, error)
	// UpdateDefect is a compare-and-set on version; stale writers get
	// ErrConflict.
	UpdateDefect(ctx context.Context, d *Defect, expectedVersion int) error
}

type defectsStore struct {
	db *sql.DB
}

func NewDefectsStore(db *sql.DB) DefectsStore {
	return &defectsStore{db: db}
}

const defectColumns = `id, aircraft_id, description, system, subsystem, ata_chapter, priority, status, reported_by, reported_at, assigned_to, resolved_at, resolution_note, deferral_ref, deferred_until, updated_at, version`

func (s *defectsStore) CreateDefect(ctx context.Context, d *Defect) (string, error) {
	if d.ID == "" {
		d.ID = uuid.Must(uuid.NewV4()).String()
	}
	if d.Status == "" {
		d.Status = DefectOpen
	}
	if d.Priority == "" {
		d.Priority = DefectPriorityMedium
	}
	if d.Version <= 0 {
		d.Version = 1
	}
	now := time.Now().UTC()
	if d.ReportedAt.IsZero() {
		d.ReportedAt = now
	}
	d.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defects(`+defectColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.AircraftID, d.Description, d.System, d.Subsystem, d.ATAChapter, d.Priority, d.Status,
		d.ReportedBy, d.ReportedAt, d.AssignedTo, nullableTime(d.ResolvedAt), d.ResolutionNote,
		d.DeferralRef, nullableTime(d.DeferredUntil), now, d.Version)
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

func (s *defectsStore) GetDefect(ctx context.Context, id string) (*Defect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+defectColumns+` FROM defects WHERE id=?`, id)
	return scanDefect(row)
}

func (s *defectsStore) ListForAircraft(ctx context.Context, aircraftID, status string) ([]Defect, error) {
	query := `SELECT ` + defectColumns + ` FROM defects WHERE aircraft_id=?`
	args := []any{aircraftID}
	if st := strings.TrimSpace(status); st != "" {
		query += ` AND status=?`
		args = append(args, st)
	}
	query += ` ORDER BY reported_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Defect
	for rows.Next() {
		var d Defect
		var resolved, deferred sql.NullTime
		if err := rows.Scan(&d.ID, &d.AircraftID, &d.Description, &d.System, &d.Subsystem, &d.ATAChapter, &d.Priority, &d.Status, &d.ReportedBy, &d.ReportedAt, &d.AssignedTo, &resolved, &d.ResolutionNote, &d.DeferralRef, &deferred, &d.UpdatedAt, &d.Version); err != nil {
			return nil, err
		}
		if resolved.Valid {
			d.ResolvedAt = &resolved.Time
		}
		if deferred.Valid {
			d.DeferredUntil = &deferred.Time
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *defectsStore) UpdateDefect(ctx context.Context, d *Defect, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE defects SET description=?, system=?, subsystem=?, ata_chapter=?, priority=?, status=?, assigned_to=?, resolved_at=?, resolution_note=?, deferral_ref=?, deferred_until=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		d.Description, d.System, d.Subsystem, d.ATAChapter, d.Priority, d.Status, d.AssignedTo,
		nullableTime(d.ResolvedAt), d.ResolutionNote, d.DeferralRef, nullableTime(d.DeferredUntil),
		now, d.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = now
	return nil
}

func scanDefect(row *sql.Row) (*Defect, error) {
	var d Defect
	var resolved, deferred sql.NullTime
	if err := row.Scan(&d.ID, &d.AircraftID, &d.Description, &d.System, &d.Subsystem, &d.ATAChapter, &d.Priority, &d.Status, &d.ReportedBy, &d.ReportedAt, &d.AssignedTo, &resolved, &d.ResolutionNote, &d.DeferralRef, &deferred, &d.UpdatedAt, &d.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if resolved.Valid {
		d.ResolvedAt = &resolved.Time
	}
	if deferred.Valid {
		d.DeferredUntil = &deferred.Time
	}
	return &d, nil
}
