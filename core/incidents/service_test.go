package incidents

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

type fakeFleet struct {
	mu       sync.Mutex
	aircraft map[string]*store.Aircraft
}

func (f *fakeFleet) ListStations(context.Context) ([]store.Station, error) { return nil, nil }
func (f *fakeFleet) UpsertStation(context.Context, *store.Station) error   { return nil }

func (f *fakeFleet) ListAircraft(context.Context, string) ([]store.Aircraft, error) {
	return nil, nil
}

func (f *fakeFleet) GetAircraft(_ context.Context, id string) (*store.Aircraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.aircraft[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeFleet) GetAircraftByRegistration(_ context.Context, reg string) (*store.Aircraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.aircraft {
		if a.Registration == reg {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeFleet) CreateAircraft(_ context.Context, a *store.Aircraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = fmt.Sprintf("ac-%d", len(f.aircraft)+1)
	}
	if a.Version <= 0 {
		a.Version = 1
	}
	cp := *a
	f.aircraft[a.ID] = &cp
	return a.ID, nil
}

func (f *fakeFleet) UpdateAircraft(_ context.Context, a *store.Aircraft, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.aircraft[a.ID]
	if !ok || cur.Version != expectedVersion {
		return store.ErrConflict
	}
	cp := *a
	cp.Version = expectedVersion + 1
	f.aircraft[a.ID] = &cp
	a.Version = cp.Version
	return nil
}

func (f *fakeFleet) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.aircraft[id]; ok {
		a.Status = status
		a.Version++
	}
}

type fakeIncidents struct {
	mu    sync.Mutex
	seq   int
	byID  map[string]*store.Incident
	fleet *fakeFleet
}

func (f *fakeIncidents) CreateIncident(_ context.Context, inc *store.Incident) (*store.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.AircraftID == inc.AircraftID && !store.IncidentTerminal(existing.Status) {
			cp := *existing
			return &cp, store.ErrOpenIncidentExists
		}
	}
	f.seq++
	inc.ID = fmt.Sprintf("inc-%d", f.seq)
	if inc.Status == "" {
		inc.Status = store.IncidentReported
	}
	if inc.Version <= 0 {
		inc.Version = 1
	}
	cp := *inc
	f.byID[inc.ID] = &cp
	f.fleet.setStatus(inc.AircraftID, store.AircraftAOG)
	return inc, nil
}

func (f *fakeIncidents) GetIncident(_ context.Context, id string) (*store.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *inc
	cp.AssignedStaff = append([]string(nil), inc.AssignedStaff...)
	return &cp, nil
}

func (f *fakeIncidents) FindOpenByAircraft(_ context.Context, aircraftID string) (*store.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inc := range f.byID {
		if inc.AircraftID == aircraftID && !store.IncidentTerminal(inc.Status) {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIncidents) ListIncidents(context.Context, store.IncidentFilter) ([]store.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []store.Incident
	for _, inc := range f.byID {
		res = append(res, *inc)
	}
	return res, nil
}

func (f *fakeIncidents) UpdateIncident(_ context.Context, inc *store.Incident, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[inc.ID]
	if !ok || cur.Version != expectedVersion {
		return store.ErrConflict
	}
	cp := *inc
	cp.Version = expectedVersion + 1
	f.byID[inc.ID] = &cp
	inc.Version = cp.Version
	return nil
}

func (f *fakeIncidents) ResolveIncident(_ context.Context, inc *store.Incident, expectedVersion int, aircraftStatus string) error {
	if err := f.UpdateIncident(context.Background(), inc, expectedVersion); err != nil {
		return err
	}
	f.fleet.setStatus(inc.AircraftID, aircraftStatus)
	return nil
}

func (f *fakeIncidents) AttachChannel(_ context.Context, incidentID, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.byID[incidentID]
	if !ok {
		return "", errors.New("incident not found")
	}
	if inc.ChannelID == nil {
		inc.ChannelID = &channelID
	}
	return *inc.ChannelID, nil
}

func (f *fakeIncidents) IncrementUpdates(_ context.Context, incidentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inc, ok := f.byID[incidentID]; ok {
		inc.UpdateCount++
	}
	return nil
}

type fakeChat struct {
	mu       sync.Mutex
	channels map[string]*store.Channel
	messages []store.Message
}

func (f *fakeChat) EnsureChannel(_ context.Context, incidentID string) (*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[incidentID]; ok {
		return ch, nil
	}
	ch := &store.Channel{ID: "ch-" + incidentID, IncidentID: incidentID, CreatedAt: time.Now().UTC()}
	f.channels[incidentID] = ch
	return ch, nil
}

func (f *fakeChat) GetChannel(_ context.Context, id string) (*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return nil, nil
}

func (f *fakeChat) AppendMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", len(f.messages)+1)
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeChat) ListMessages(_ context.Context, channelID string, _ int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []store.Message
	for _, m := range f.messages {
		if m.ChannelID == channelID {
			res = append(res, m)
		}
	}
	return res, nil
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, string, string)           {}
func (nopAudit) List(context.Context, int) ([]store.AuditEntry, error) { return nil, nil }
func (nopAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type testRig struct {
	engine    *Engine
	fleet     *fakeFleet
	incidents *fakeIncidents
	chat      *fakeChat
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	fleet := &fakeFleet{aircraft: map[string]*store.Aircraft{
		"ac-1": {ID: "ac-1", Registration: "D-ABCD", StationCode: "FRA", Status: store.AircraftOperational, Version: 1},
	}}
	incs := &fakeIncidents{byID: map[string]*store.Incident{}, fleet: fleet}
	chat := &fakeChat{channels: map[string]*store.Channel{}}
	dispatcher := events.NewDispatcher(64, nil)
	t.Cleanup(dispatcher.Stop)
	engine := NewEngine(incs, fleet, chat, rbac.DefaultPolicy(), nopAudit{}, dispatcher, nil)
	return &testRig{engine: engine, fleet: fleet, incidents: incs, chat: chat}
}

var (
	opsActor    = rbac.Actor{UserID: "ops-1", Role: rbac.RoleOperationsManager}
	viewerActor = rbac.Actor{UserID: "view-1", Role: rbac.RoleViewer}
	engActor    = rbac.Actor{UserID: "eng-1", Role: rbac.RoleEngineer}
)

func TestReportAOGOpensIncidentAndGroundsAircraft(t *testing.T) {
	rig := newTestRig(t)
	inc, err := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{
		AircraftID: "ac-1",
		Severity:   store.SeverityCritical,
		Issue:      "hydraulic leak on landing gear",
	})
	if err != nil {
		t.Fatal(err)
	}
	if inc.Status != store.IncidentReported {
		t.Fatalf("new incident status = %s, want reported", inc.Status)
	}
	if inc.StationCode != "FRA" {
		t.Fatalf("station should default to the aircraft's station, got %s", inc.StationCode)
	}
	if inc.ChannelID == nil {
		t.Fatal("a chat channel must be attached on report")
	}
	a, _ := rig.fleet.GetAircraft(context.Background(), "ac-1")
	if a.Status != store.AircraftAOG {
		t.Fatalf("aircraft status = %s, want aog", a.Status)
	}
}

func TestReportAOGDuplicateCarriesExistingID(t *testing.T) {
	rig := newTestRig(t)
	first, err := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "engine fire warning"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "another report"})
	if !errors.Is(err, ErrDuplicateIncident) {
		t.Fatalf("second report: got %v, want ErrDuplicateIncident", err)
	}
	var dup *DuplicateIncidentError
	if !errors.As(err, &dup) {
		t.Fatalf("error should be a *DuplicateIncidentError, got %T", err)
	}
	if dup.ExistingID != first.ID {
		t.Fatalf("duplicate carries id %s, want %s", dup.ExistingID, first.ID)
	}
}

func TestConcurrentReportsOpenExactlyOneIncident(t *testing.T) {
	rig := newTestRig(t)
	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	duplicates := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "bird strike"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateIncident):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
	if duplicates != workers-1 {
		t.Fatalf("duplicates = %d, want %d", duplicates, workers-1)
	}
}

func TestAssignTeamRequiresCapability(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "flat tire"})

	if _, err := rig.engine.AssignTeam(context.Background(), viewerActor, inc.ID, []string{"staff-1"}); !errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("viewer assign: got %v, want ErrPermissionDenied", err)
	}
	got, err := rig.engine.AssignTeam(context.Background(), opsActor, inc.ID, []string{"staff-1", "staff-2"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.IncidentAssigned {
		t.Fatalf("first assignment should move reported to assigned, got %s", got.Status)
	}
	if len(got.AssignedStaff) != 2 {
		t.Fatalf("assigned staff = %v", got.AssignedStaff)
	}
}

func TestAssignTeamIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "apu fault"})
	first, err := rig.engine.AssignTeam(context.Background(), opsActor, inc.ID, []string{"staff-1"})
	if err != nil {
		t.Fatal(err)
	}
	again, err := rig.engine.AssignTeam(context.Background(), opsActor, inc.ID, []string{"staff-1"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != first.Version {
		t.Fatalf("repeating an assignment must not write (version %d -> %d)", first.Version, again.Version)
	}
	if len(again.AssignedStaff) != 1 {
		t.Fatalf("assigned staff = %v, want one entry", again.AssignedStaff)
	}
}

func TestAdvanceIsStrictlyMonotonic(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "fuel pump"})
	if _, err := rig.engine.AssignTeam(context.Background(), opsActor, inc.ID, []string{"staff-1"}); err != nil {
		t.Fatal(err)
	}
	adv, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentInProgress})
	if err != nil {
		t.Fatal(err)
	}
	if adv.Status != store.IncidentInProgress {
		t.Fatalf("status = %s", adv.Status)
	}

	// backward move rejected, state untouched
	if _, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentAssigned}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backward move: got %v, want ErrInvalidTransition", err)
	}
	cur, _ := rig.engine.Get(context.Background(), opsActor, inc.ID)
	if cur.Status != store.IncidentInProgress {
		t.Fatalf("rejected transition must not change state, got %s", cur.Status)
	}
}

func TestResolveRevertsAircraftStatus(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "cracked windshield"})
	got, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{
		IncidentID:     inc.ID,
		Target:         store.IncidentResolved,
		AircraftStatus: store.AircraftMaintenance,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.IncidentResolved || got.ResolvedAt == nil {
		t.Fatalf("resolved incident = %+v", got)
	}
	a, _ := rig.fleet.GetAircraft(context.Background(), "ac-1")
	if a.Status != store.AircraftMaintenance {
		t.Fatalf("aircraft status = %s, want maintenance", a.Status)
	}

	// terminal: no further moves
	if _, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentCancelled}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("move out of resolved: got %v, want ErrInvalidTransition", err)
	}
}

func TestResolveNeedsResolveCapability(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "sensor fault"})
	// engineer holds advance_status but not resolve_aog
	if _, err := rig.engine.Advance(context.Background(), engActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentResolved}); !errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("engineer resolve: got %v, want ErrPermissionDenied", err)
	}
}

func TestCancelFromAnyNonTerminalStatus(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "false alarm"})
	got, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentCancelled})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.IncidentCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	a, _ := rig.fleet.GetAircraft(context.Background(), "ac-1")
	if a.Status != store.AircraftOperational {
		t.Fatalf("cancel should return the aircraft to operational, got %s", a.Status)
	}
}

func TestPostUpdateAppendsMessageAndCounts(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "avionics"})

	if _, err := rig.engine.PostUpdate(context.Background(), viewerActor, inc.ID, "status?"); !errors.Is(err, rbac.ErrPermissionDenied) {
		t.Fatalf("viewer post: got %v, want ErrPermissionDenied", err)
	}
	msg, err := rig.engine.PostUpdate(context.Background(), engActor, inc.ID, "parts ordered")
	if err != nil {
		t.Fatal(err)
	}
	if msg.AuthorID != engActor.UserID {
		t.Fatalf("author = %s", msg.AuthorID)
	}
	msgs, err := rig.engine.Messages(context.Background(), opsActor, inc.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "parts ordered" {
		t.Fatalf("messages = %+v", msgs)
	}
	cur, _ := rig.engine.Get(context.Background(), opsActor, inc.ID)
	if cur.UpdateCount != 1 {
		t.Fatalf("update count = %d, want 1", cur.UpdateCount)
	}
}

func TestPostUpdateRejectedOnTerminalIncident(t *testing.T) {
	rig := newTestRig(t)
	inc, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "gear actuator"})
	if _, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: inc.ID, Target: store.IncidentResolved}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.engine.PostUpdate(context.Background(), opsActor, inc.ID, "late note"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("post on resolved: got %v, want ErrInvalidTransition", err)
	}
	cur, _ := rig.engine.Get(context.Background(), opsActor, inc.ID)
	if cur.UpdateCount != 0 {
		t.Fatalf("terminal incident mutated, update count = %d", cur.UpdateCount)
	}

	cancelled, _ := rig.engine.ReportAOG(context.Background(), opsActor, ReportRequest{AircraftID: "ac-1", Issue: "false alarm"})
	if _, err := rig.engine.Advance(context.Background(), opsActor, AdvanceRequest{IncidentID: cancelled.ID, Target: store.IncidentCancelled}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.engine.PostUpdate(context.Background(), opsActor, cancelled.ID, "late note"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("post on cancelled: got %v, want ErrInvalidTransition", err)
	}
}
