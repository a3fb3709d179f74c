package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"condor-aog/core/auth"
	"condor-aog/core/defects"
	"condor-aog/core/events"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
)

func sessionContext(role rbac.Role) context.Context {
	rec := &store.SessionRecord{
		ID:        "sess-1",
		UserID:    "user-1",
		Email:     "test@example.com",
		Role:      string(role),
		CSRFToken: "token",
	}
	return context.WithValue(context.Background(), auth.SessionContextKey, rec)
}

type fakeDefects struct {
	seq  int
	byID map[string]*store.Defect
}

func (f *fakeDefects) CreateDefect(_ context.Context, d *store.Defect) (string, error) {
	f.seq++
	d.ID = fmt.Sprintf("def-%d", f.seq)
	if d.Status == "" {
		d.Status = store.DefectOpen
	}
	if d.Version <= 0 {
		d.Version = 1
	}
	cp := *d
	f.byID[d.ID] = &cp
	return d.ID, nil
}

func (f *fakeDefects) GetDefect(_ context.Context, id string) (*store.Defect, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDefects) ListForAircraft(_ context.Context, aircraftID, status string) ([]store.Defect, error) {
	var res []store.Defect
	for _, d := range f.byID {
		if d.AircraftID == aircraftID && (status == "" || d.Status == status) {
			res = append(res, *d)
		}
	}
	return res, nil
}

func (f *fakeDefects) UpdateDefect(_ context.Context, d *store.Defect, expectedVersion int) error {
	cur, ok := f.byID[d.ID]
	if !ok || cur.Version != expectedVersion {
		return store.ErrConflict
	}
	cp := *d
	cp.Version = expectedVersion + 1
	f.byID[d.ID] = &cp
	d.Version = cp.Version
	return nil
}

type fakeFleet struct {
	aircraft map[string]*store.Aircraft
}

func (f *fakeFleet) ListStations(context.Context) ([]store.Station, error) { return nil, nil }
func (f *fakeFleet) UpsertStation(context.Context, *store.Station) error   { return nil }
func (f *fakeFleet) ListAircraft(context.Context, string) ([]store.Aircraft, error) {
	return nil, nil
}

func (f *fakeFleet) GetAircraft(_ context.Context, id string) (*store.Aircraft, error) {
	return f.aircraft[id], nil
}

func (f *fakeFleet) GetAircraftByRegistration(context.Context, string) (*store.Aircraft, error) {
	return nil, nil
}

func (f *fakeFleet) CreateAircraft(_ context.Context, a *store.Aircraft) (string, error) {
	f.aircraft[a.ID] = a
	return a.ID, nil
}

func (f *fakeFleet) UpdateAircraft(context.Context, *store.Aircraft, int) error { return nil }

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, string, string)            {}
func (nopAudit) List(context.Context, int) ([]store.AuditEntry, error)  { return nil, nil }
func (nopAudit) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newDefectsHandler(t *testing.T) (*DefectsHandler, *fakeDefects) {
	t.Helper()
	defectsStore := &fakeDefects{byID: map[string]*store.Defect{}}
	fleetStore := &fakeFleet{aircraft: map[string]*store.Aircraft{
		"ac-1": {ID: "ac-1", Registration: "D-ABCD", StationCode: "FRA", Status: store.AircraftOperational, Version: 1},
	}}
	dispatcher := events.NewDispatcher(64, nil)
	t.Cleanup(dispatcher.Stop)
	ledger := defects.NewLedger(defectsStore, fleetStore, rbac.DefaultPolicy(), nopAudit{}, dispatcher, nil)
	return NewDefectsHandler(ledger, nil), defectsStore
}

func reportDefectRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/defects/", strings.NewReader(body))
	return req.WithContext(sessionContext(rbac.RoleSeniorEngineer))
}

func TestReportDefectRejectsUnknownPriority(t *testing.T) {
	h, defectsStore := newDefectsHandler(t)
	rr := httptest.NewRecorder()
	h.Report(rr, reportDefectRequest(`{"aircraft_id":"ac-1","description":"galley light inop","priority":"urgent"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(defectsStore.byID) != 0 {
		t.Fatal("rejected priority must not be stored")
	}
}

func TestReportDefectAcceptsClosedPrioritySet(t *testing.T) {
	h, defectsStore := newDefectsHandler(t)
	for _, priority := range []string{
		store.DefectPriorityCritical,
		store.DefectPriorityHigh,
		store.DefectPriorityMedium,
		store.DefectPriorityLow,
	} {
		rr := httptest.NewRecorder()
		h.Report(rr, reportDefectRequest(`{"aircraft_id":"ac-1","description":"x","priority":"`+strings.ToUpper(priority)+`"}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("priority %s: status = %d, want 201", priority, rr.Code)
		}
	}
	for _, d := range defectsStore.byID {
		if _, ok := validPriority[d.Priority]; !ok {
			t.Fatalf("stored priority %q is outside the closed set", d.Priority)
		}
	}
}
