package defects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"condor-aog/core/events"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
)

type fakeDefects struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*store.Defect
}

func (f *fakeDefects) CreateDefect(_ context.Context, d *store.Defect) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDefects) ListForAircraft(_ context.Context, aircraftID, status string) ([]store.Defect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []store.Defect
	for _, d := range f.byID {
		if d.AircraftID != aircraftID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		res = append(res, *d)
	}
	return res, nil
}

func (f *fakeDefects) UpdateDefect(_ context.Context, d *store.Defect, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

var (
	engActor = rbac.Actor{UserID: "eng-1", Role: rbac.RoleEngineer}
	qcActor  = rbac.Actor{UserID: "qc-1", Role: rbac.RoleQualityControl}
	seActor  = rbac.Actor{UserID: "se-1", Role: rbac.RoleSeniorEngineer}
)

func newTestLedger(t *testing.T) (*Ledger, *fakeDefects) {
	t.Helper()
	defectsStore := &fakeDefects{byID: map[string]*store.Defect{}}
	fleet := &fakeFleet{aircraft: map[string]*store.Aircraft{
		"ac-1": {ID: "ac-1", Registration: "D-ABCD", StationCode: "MUC", Status: store.AircraftOperational, Version: 1},
	}}
	dispatcher := events.NewDispatcher(64, nil)
	t.Cleanup(dispatcher.Stop)
	return NewLedger(defectsStore, fleet, rbac.DefaultPolicy(), nopAudit{}, dispatcher, nil), defectsStore
}

func report(t *testing.T, l *Ledger) *store.Defect {
	t.Helper()
	d, err := l.Report(context.Background(), engActor, ReportRequest{
		AircraftID:  "ac-1",
		Description: "coffee maker inop",
		ATAChapter:  "25",
		Priority:    store.DefectPriorityLow,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestReportDefectOpensIt(t *testing.T) {
	ledger, _ := newTestLedger(t)
	d := report(t, ledger)
	if d.Status != store.DefectOpen {
		t.Fatalf("status = %s, want open", d.Status)
	}
	if d.ReportedBy != engActor.UserID {
		t.Fatalf("reported_by = %s", d.ReportedBy)
	}
}

func TestReportRequiresManageDefects(t *testing.T) {
	ledger, _ := newTestLedger(t)
	// quality_control can defer but not manage
	_, err := ledger.Report(context.Background(), qcActor, ReportRequest{AircraftID: "ac-1", Description: "x"})
	if !errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestStatusPathIsForwardOnly(t *testing.T) {
	ledger, _ := newTestLedger(t)
	d := report(t, ledger)

	d2, err := ledger.UpdateStatus(context.Background(), engActor, d.ID, store.DefectInProgress, "")
	if err != nil {
		t.Fatal(err)
	}
	if d2.Status != store.DefectInProgress || d2.AssignedTo != engActor.UserID {
		t.Fatalf("in_progress defect = %+v", d2)
	}
	if _, err := ledger.UpdateStatus(context.Background(), engActor, d.ID, store.DefectOpen, ""); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("backward move: got %v, want ErrInvalidStatusChange", err)
	}
	if _, err := ledger.UpdateStatus(context.Background(), engActor, d.ID, store.DefectResolved, ""); err == nil {
		t.Fatal("resolving without a note must fail")
	}
	d3, err := ledger.UpdateStatus(context.Background(), engActor, d.ID, store.DefectResolved, "replaced unit")
	if err != nil {
		t.Fatal(err)
	}
	if d3.ResolvedAt == nil || d3.ResolutionNote != "replaced unit" {
		t.Fatalf("resolved defect = %+v", d3)
	}
}

func TestDeferRejectsPastDates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	d := report(t, ledger)
	_, err := ledger.Defer(context.Background(), seActor, d.ID, "MEL-25-01", time.Now().UTC().Add(-time.Hour))
	if !errors.Is(err, ErrInvalidDeferral) {
		t.Fatalf("past deferral: got %v, want ErrInvalidDeferral", err)
	}
	got, _ := ledger.Get(context.Background(), seActor, d.ID)
	if got.Status != store.DefectOpen {
		t.Fatalf("rejected deferral must not change state, got %s", got.Status)
	}
}

func TestDeferIsIdempotentForSameParams(t *testing.T) {
	ledger, _ := newTestLedger(t)
	d := report(t, ledger)
	until := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)

	first, err := ledger.Defer(context.Background(), seActor, d.ID, "MEL-25-01", until)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != store.DefectDeferred || first.DeferralRef != "MEL-25-01" {
		t.Fatalf("deferred defect = %+v", first)
	}
	again, err := ledger.Defer(context.Background(), seActor, d.ID, "MEL-25-01", until)
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != first.Version {
		t.Fatalf("repeating the same deferral must not write (version %d -> %d)", first.Version, again.Version)
	}
	// different reference on an already-deferred defect is rejected
	if _, err := ledger.Defer(context.Background(), seActor, d.ID, "MEL-25-02", until); !errors.Is(err, ErrInvalidDeferral) {
		t.Fatalf("conflicting deferral: got %v, want ErrInvalidDeferral", err)
	}
}

func TestDeferRequiresCapability(t *testing.T) {
	ledger, _ := newTestLedger(t)
	d := report(t, ledger)
	// engineer manages defects but cannot defer
	_, err := ledger.Defer(context.Background(), engActor, d.ID, "MEL-25-01", time.Now().UTC().Add(time.Hour))
	if !errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestExpiredDeferralNeedsExplicitReopen(t *testing.T) {
	ledger, store_ := newTestLedger(t)
	d := report(t, ledger)
	until := time.Now().UTC().Add(time.Hour)
	if _, err := ledger.Defer(context.Background(), seActor, d.ID, "MEL-25-01", until); err != nil {
		t.Fatal(err)
	}
	// simulate expiry
	store_.mu.Lock()
	past := time.Now().UTC().Add(-time.Hour)
	store_.byID[d.ID].DeferredUntil = &past
	store_.mu.Unlock()

	got, _ := ledger.Get(context.Background(), seActor, d.ID)
	if got.Status != store.DefectDeferred {
		t.Fatalf("expiry alone must not reopen, got %s", got.Status)
	}
	reopened, err := ledger.Reopen(context.Background(), seActor, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Status != store.DefectOpen || reopened.DeferralRef != "" || reopened.DeferredUntil != nil {
		t.Fatalf("reopened defect = %+v", reopened)
	}
	// reopening a non-deferred defect is rejected
	if _, err := ledger.Reopen(context.Background(), seActor, d.ID); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("reopen open defect: got %v, want ErrInvalidStatusChange", err)
	}
}

func TestListForAircraftFiltersByStatus(t *testing.T) {
	ledger, _ := newTestLedger(t)
	a := report(t, ledger)
	report(t, ledger)
	if _, err := ledger.UpdateStatus(context.Background(), engActor, a.ID, store.DefectInProgress, ""); err != nil {
		t.Fatal(err)
	}
	all, err := ledger.ListForAircraft(context.Background(), engActor, "ac-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all defects = %d, want 2", len(all))
	}
	open, err := ledger.ListForAircraft(context.Background(), engActor, "ac-1", store.DefectOpen)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open defects = %d, want 1", len(open))
	}
}
