package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrOpenIncidentExists reports that the aircraft already has a non-terminal
// incident; the existing incident is returned alongside it.
var ErrOpenIncidentExists = errors.New("open incident exists")

// Incident status vocabulary. Ordering is monotonic; resolved and cancelled
// are terminal.
const (
	IncidentReported   = "reported"
	IncidentAssigned   = "assigned"
	IncidentInProgress = "in_progress"
	IncidentResolved   = "resolved"
	IncidentCancelled  = "cancelled"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

type Incident struct {
	ID                string     `json:"id"`
	AircraftID        string     `json:"aircraft_id"`
	StationCode       string     `json:"station_code"`
	Severity          string     `json:"severity"`
	Status            string     `json:"status"`
	Issue             string     `json:"issue"`
	ATAChapter        string     `json:"ata_chapter,omitempty"`
	AssignedStaff     []string   `json:"assigned_staff"`
	ChannelID         *string    `json:"channel_id,omitempty"`
	UpdateCount       int        `json:"update_count"`
	ReportedAt        time.Time  `json:"reported_at"`
	EstimatedRepairAt *time.Time `json:"estimated_repair_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	CreatedBy         string     `json:"created_by"`
	UpdatedBy         string     `json:"updated_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Version           int        `json:"version"`
}

func IncidentTerminal(status string) bool {
	return status == IncidentResolved || status == IncidentCancelled
}

type IncidentFilter struct {
	StationCode string
	Status      string
	AircraftID  string
	Limit       int
}

type IncidentsStore interface {
	// CreateIncident inserts atomically with the single-open-incident check
	// and flips the aircraft to aog status within the same transaction. When
	// an open incident already exists it is returned together with
	// ErrOpenIncidentExists and nothing is written.
	CreateIncident(ctx context.Context, inc *Incident) (*Incident, error)
	GetIncident(ctx context.Context, id string) (*Incident, error)
	FindOpenByAircraft(ctx context.Context, aircraftID string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	// UpdateIncident is a compare-and-set on version: stale writers get
	// ErrConflict and the stored state is untouched.
	UpdateIncident(ctx context.Context, inc *Incident, expectedVersion int) error
	// ResolveIncident terminates the incident and reverts the aircraft to
	// the given status in one transaction.
	ResolveIncident(ctx context.Context, inc *Incident, expectedVersion int, aircraftStatus string) error
	// AttachChannel links a chat channel id once; a second call with any
	// channel id is a no-op returning the stored link.
	AttachChannel(ctx context.Context, incidentID, channelID string) (string, error)
	IncrementUpdates(ctx context.Context, incidentID string) error
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, aircraft_id, station_code, severity, status, issue, ata_chapter, assigned_staff, channel_id, update_count, reported_at, estimated_repair_at, resolved_at, created_by, updated_by, created_at, updated_at, version`

func (s *incidentsStore) CreateIncident(ctx context.Context, inc *Incident) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	existing, err := s.findOpenByAircraftTx(ctx, tx, inc.AircraftID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if existing != nil {
		tx.Rollback()
		return existing, ErrOpenIncidentExists
	}
	if inc.ID == "" {
		inc.ID = uuid.Must(uuid.NewV4()).String()
	}
	if inc.Status == "" {
		inc.Status = IncidentReported
	}
	if inc.Severity == "" {
		inc.Severity = SeverityHigh
	}
	if inc.Version <= 0 {
		inc.Version = 1
	}
	now := time.Now().UTC()
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = now
	}
	inc.CreatedAt = now
	inc.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO aog_incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.AircraftID, inc.StationCode, inc.Severity, inc.Status, inc.Issue, inc.ATAChapter,
		idsToJSON(inc.AssignedStaff), nullableString(inc.ChannelID), inc.UpdateCount, inc.ReportedAt,
		nullableTime(inc.EstimatedRepairAt), nullableTime(inc.ResolvedAt), inc.CreatedBy, inc.UpdatedBy,
		now, now, inc.Version)
	if err != nil {
		tx.Rollback()
		// A racing writer may beat us past the existence check; the partial
		// unique index makes the loser land here.
		if racing, ferr := s.FindOpenByAircraft(ctx, inc.AircraftID); ferr == nil && racing != nil {
			return racing, ErrOpenIncidentExists
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE aircraft SET status=?, issue=?, updated_at=?, version=version+1 WHERE id=?`,
		AircraftAOG, inc.Issue, now, inc.AircraftID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inc, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM aog_incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) FindOpenByAircraft(ctx context.Context, aircraftID string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM aog_incidents
		WHERE aircraft_id=? AND status NOT IN (?, ?)`,
		aircraftID, IncidentResolved, IncidentCancelled)
	return scanIncident(row)
}

func (s *incidentsStore) findOpenByAircraftTx(ctx context.Context, tx *sql.Tx, aircraftID string) (*Incident, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM aog_incidents
		WHERE aircraft_id=? AND status NOT IN (?, ?)`,
		aircraftID, IncidentResolved, IncidentCancelled)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if code := strings.ToUpper(strings.TrimSpace(filter.StationCode)); code != "" && code != StationAll {
		clauses = append(clauses, "station_code=?")
		args = append(args, code)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.AircraftID != "" {
		clauses = append(clauses, "aircraft_id=?")
		args = append(args, filter.AircraftID)
	}
	query := `SELECT ` + incidentColumns + ` FROM aog_incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY reported_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) UpdateIncident(ctx context.Context, inc *Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE aog_incidents SET severity=?, status=?, issue=?, ata_chapter=?, assigned_staff=?, estimated_repair_at=?, resolved_at=?, updated_by=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		inc.Severity, inc.Status, inc.Issue, inc.ATAChapter, idsToJSON(inc.AssignedStaff),
		nullableTime(inc.EstimatedRepairAt), nullableTime(inc.ResolvedAt), inc.UpdatedBy, now,
		inc.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	inc.Version = expectedVersion + 1
	inc.UpdatedAt = now
	return nil
}

func (s *incidentsStore) ResolveIncident(ctx context.Context, inc *Incident, expectedVersion int, aircraftStatus string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE aog_incidents SET status=?, resolved_at=?, updated_by=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		inc.Status, nullableTime(inc.ResolvedAt), inc.UpdatedBy, now, inc.ID, expectedVersion)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE aircraft SET status=?, issue='', updated_at=?, version=version+1 WHERE id=?`,
		aircraftStatus, now, inc.AircraftID); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	inc.Version = expectedVersion + 1
	inc.UpdatedAt = now
	return nil
}

func (s *incidentsStore) AttachChannel(ctx context.Context, incidentID, channelID string) (string, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE aog_incidents SET channel_id=? WHERE id=? AND channel_id IS NULL`,
		channelID, incidentID); err != nil {
		return "", err
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT channel_id FROM aog_incidents WHERE id=?`, incidentID).Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("incident not found")
		}
		return "", err
	}
	return stored, nil
}

func (s *incidentsStore) IncrementUpdates(ctx context.Context, incidentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE aog_incidents SET update_count=update_count+1, updated_at=? WHERE id=?`,
		time.Now().UTC(), incidentID)
	return err
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var staffRaw string
	var channel sql.NullString
	var eta, resolved sql.NullTime
	if err := row.Scan(&inc.ID, &inc.AircraftID, &inc.StationCode, &inc.Severity, &inc.Status, &inc.Issue, &inc.ATAChapter, &staffRaw, &channel, &inc.UpdateCount, &inc.ReportedAt, &eta, &resolved, &inc.CreatedBy, &inc.UpdatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inc.AssignedStaff = idsFromJSON(staffRaw)
	if channel.Valid {
		inc.ChannelID = &channel.String
	}
	if eta.Valid {
		inc.EstimatedRepairAt = &eta.Time
	}
	if resolved.Valid {
		inc.ResolvedAt = &resolved.Time
	}
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (Incident, error) {
	var inc Incident
	var staffRaw string
	var channel sql.NullString
	var eta, resolved sql.NullTime
	if err := rows.Scan(&inc.ID, &inc.AircraftID, &inc.StationCode, &inc.Severity, &inc.Status, &inc.Issue, &inc.ATAChapter, &staffRaw, &channel, &inc.UpdateCount, &inc.ReportedAt, &eta, &resolved, &inc.CreatedBy, &inc.UpdatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		return inc, err
	}
	inc.AssignedStaff = idsFromJSON(staffRaw)
	if channel.Valid {
		inc.ChannelID = &channel.String
	}
	if eta.Valid {
		inc.EstimatedRepairAt = &eta.Time
	}
	if resolved.Valid {
		inc.ResolvedAt = &resolved.Time
	}
	return inc, nil
}
