package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"p9e.in/gridops/models"
)

// fakeStore is an in-memory WorkOrderStore for engine tests. Its
// conditional update takes the same lock as every other method, so
// concurrent claims contend the way they would against Postgres.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*models.WorkOrder
	logs     []models.WorkOrderLog
	feedback []models.WorkOrderFeedback
	users    map[uuid.UUID]*models.User
	areas    []models.GridArea

	// updateErr forces UpdateOrderIf to fail for a given order.
	updateErr map[uuid.UUID]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[uuid.UUID]*models.WorkOrder),
		users:     make(map[uuid.UUID]*models.User),
		updateErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeStore) addUser(name, role string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.users[id] = &models.User{ID: id, Name: name, Role: role, IsActive: true}
	return id
}

func (f *fakeStore) addOrder(order models.WorkOrder) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.WorkID == uuid.Nil {
		order.WorkID = uuid.New()
	}
	f.orders[order.WorkID] = &order
	return order.WorkID
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.WorkOrder, entry *models.WorkOrderLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.WorkID == uuid.Nil {
		order.WorkID = uuid.New()
	}
	copied := *order
	f.orders[order.WorkID] = &copied
	entry.WorkID = order.WorkID
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, workID uuid.UUID) (*models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[workID]
	if !ok {
		return nil, models.NewBusinessError(models.KindNotFound, "work order not found")
	}
	copied := *o
	return &copied, nil
}

func (f *fakeStore) UpdateOrderIf(ctx context.Context, workID uuid.UUID, expected models.WorkOrderStatus,
	update OrderUpdate, entry *models.WorkOrderLog, feedback *models.WorkOrderFeedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.updateErr[workID]; ok {
		return err
	}
	o, ok := f.orders[workID]
	if !ok {
		return models.NewBusinessError(models.KindNotFound, "work order not found")
	}
	if o.Status != expected {
		return models.NewBusinessError(models.KindConflict, "work order no longer in status %s", expected)
	}
	o.Status = update.Status
	o.UpdatedAt = update.UpdatedAt
	if update.HandlerID != nil {
		o.HandlerID = update.HandlerID
	}
	if update.Deadline != nil {
		o.Deadline = update.Deadline
	}
	if update.ResolutionNote != nil {
		o.ResolutionNote = *update.ResolutionNote
	}
	if update.ResolutionImageRefs != nil {
		o.ResolutionImageRefs = update.ResolutionImageRefs
	}
	if update.ResolvedAt != nil {
		o.ResolvedAt = update.ResolvedAt
	}
	f.logs = append(f.logs, *entry)
	if feedback != nil {
		f.feedback = append(f.feedback, *feedback)
	}
	return nil
}

func (f *fakeStore) RecentOrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, since time.Time) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, o := range f.orders {
		if o.SubmitterID == submitterID && !o.CreatedAt.Before(since) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) OrdersBySubmitter(ctx context.Context, submitterID uuid.UUID, statuses []models.WorkOrderStatus) ([]models.WorkOrder, error) {
	return nil, nil
}

func (f *fakeStore) OrdersByStatus(ctx context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) AllOrders(ctx context.Context) ([]models.WorkOrder, error) { return nil, nil }

func (f *fakeStore) OrdersByHandler(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error) {
	return nil, nil
}

func (f *fakeStore) PreviouslyHandledOrders(ctx context.Context, handlerID uuid.UUID) ([]models.WorkOrder, error) {
	return nil, nil
}

func (f *fakeStore) UnclaimedCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, o := range f.orders {
		if o.Status == models.StatusUnclaimed && o.CreatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) ProcessingStaleWithoutDeadline(ctx context.Context, cutoff time.Time) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, o := range f.orders {
		if o.Status == models.StatusProcessing && o.Deadline == nil && o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) DeadlineExceeded(ctx context.Context, now time.Time) ([]models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrder
	for _, o := range f.orders {
		if o.Deadline != nil && o.Deadline.Before(now) && o.Status != models.StatusCompleted {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) Logs(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrderLog
	for _, l := range f.logs {
		if l.WorkID == workID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) FeedbackEntries(ctx context.Context, workID uuid.UUID) ([]models.WorkOrderFeedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WorkOrderFeedback
	for _, fb := range f.feedback {
		if fb.WorkID == workID {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (f *fakeStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.NewBusinessError(models.KindNotFound, "user not found")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UsersByRole(ctx context.Context, role string) ([]models.User, error) {
	return nil, nil
}

func (f *fakeStore) ActiveGridAreas(ctx context.Context) ([]models.GridArea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GridArea(nil), f.areas...), nil
}

// fakeClock is a settable clock for engine and scheduler tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testStart = time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)

func newTestEngine() (*LifecycleEngine, *fakeStore, *fakeClock) {
	store := newFakeStore()
	clock := newFakeClock(testStart)
	return NewLifecycleEngine(store, clock.Now), store, clock
}

func validInput(submitter uuid.UUID) CreateOrderInput {
	return CreateOrderInput{
		SubmitterID:  submitter,
		Description:  "streetlight out on the corner of 5th and Main",
		Address:      "5th and Main",
		BuildingInfo: "Block C",
	}
}

func TestCreateWorkOrder(t *testing.T) {
	engine, store, _ := newTestEngine()
	citizen := store.addUser("Wang Fang", models.RoleCitizen)

	order, err := engine.Create(context.Background(), validInput(citizen))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if order.Status != models.StatusUnclaimed {
		t.Errorf("new order status = %s, want %s", order.Status, models.StatusUnclaimed)
	}
	logs, _ := store.Logs(context.Background(), order.WorkID)
	if len(logs) != 1 || logs[0].ActionType != actionSubmit {
		t.Errorf("expected exactly one submit log, got %+v", logs)
	}
}

func TestCreateUnknownSubmitter(t *testing.T) {
	engine, _, _ := newTestEngine()

	_, err := engine.Create(context.Background(), validInput(uuid.New()))
	if !models.IsKind(err, models.KindUnknownActor) {
		t.Fatalf("expected UnknownActor, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, store, _ := newTestEngine()
	citizen := store.addUser("Wang Fang", models.RoleCitizen)

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"blank description", func(in *CreateOrderInput) { in.Description = "   " }},
		{"blank address", func(in *CreateOrderInput) { in.Address = "" }},
		{"blank building info", func(in *CreateOrderInput) { in.BuildingInfo = "\t" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput(citizen)
			tt.mutate(&in)
			_, err := engine.Create(context.Background(), in)
			if !models.IsKind(err, models.KindValidation) {
				t.Errorf("expected Validation, got %v", err)
			}
		})
	}
}

func TestDuplicateGuard(t *testing.T) {
	engine, store, clock := newTestEngine()
	citizen := store.addUser("Wang Fang", models.RoleCitizen)

	first := validInput(citizen)
	if _, err := engine.Create(context.Background(), first); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	// Exact duplicate inside the window is rejected.
	clock.Advance(10 * time.Second)
	if _, err := engine.Create(context.Background(), first); !models.IsKind(err, models.KindDuplicateSubmission) {
		t.Fatalf("exact duplicate: expected DuplicateSubmission, got %v", err)
	}

	// Near-identical text is rejected too.
	near := first
	near.Description = strings.Replace(first.Description, "corner", "cornar", 1)
	if _, err := engine.Create(context.Background(), near); !models.IsKind(err, models.KindDuplicateSubmission) {
		t.Fatalf("near duplicate: expected DuplicateSubmission, got %v", err)
	}

	// A clearly different report from the same citizen goes through.
	other := validInput(citizen)
	other.Description = "burst water pipe flooding the basement stairwell"
	if _, err := engine.Create(context.Background(), other); err != nil {
		t.Fatalf("different description rejected: %v", err)
	}

	// After the window passes the same text is accepted again.
	clock.Advance(51 * time.Second)
	if _, err := engine.Create(context.Background(), first); err != nil {
		t.Fatalf("resubmission after window rejected: %v", err)
	}
}

func TestClaim(t *testing.T) {
	engine, store, _ := newTestEngine()
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{Status: models.StatusUnclaimed, CreatedAt: testStart})

	order, err := engine.Claim(context.Background(), workID, worker)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if order.Status != models.StatusProcessing {
		t.Errorf("status = %s, want %s", order.Status, models.StatusProcessing)
	}
	if order.HandlerID == nil || *order.HandlerID != worker {
		t.Errorf("handler = %v, want %s", order.HandlerID, worker)
	}

	// A second claim on the same order fails.
	other := store.addUser("Zhang Min", models.RoleGridWorker)
	if _, err := engine.Claim(context.Background(), workID, other); !models.IsKind(err, models.KindAlreadyClaimed) {
		t.Fatalf("second claim: expected AlreadyClaimed, got %v", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	engine, store, _ := newTestEngine()
	workID := store.addOrder(models.WorkOrder{Status: models.StatusUnclaimed, CreatedAt: testStart})

	const racers = 16
	workers := make([]uuid.UUID, racers)
	for i := range workers {
		workers[i] = store.addUser("Worker", models.RoleGridWorker)
	}

	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Claim(context.Background(), workID, workers[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case models.IsKind(err, models.KindAlreadyClaimed):
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}

	logs, _ := store.Logs(context.Background(), workID)
	if len(logs) != 1 {
		t.Errorf("expected a single claim log, got %d", len(logs))
	}
}

func TestSubmitFeedback(t *testing.T) {
	engine, store, _ := newTestEngine()
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{
		Status: models.StatusProcessing, HandlerID: &worker, CreatedAt: testStart,
	})

	order, err := engine.SubmitFeedback(context.Background(), workID, worker,
		"replaced the bulb", []string{"after.jpg"})
	if err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	if order.Status != models.StatusCompleted {
		t.Errorf("status = %s, want %s", order.Status, models.StatusCompleted)
	}
	if order.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	fb, _ := store.FeedbackEntries(context.Background(), workID)
	if len(fb) != 1 || fb[0].Description != "replaced the bulb" {
		t.Errorf("expected one feedback record, got %+v", fb)
	}
	logs, _ := store.Logs(context.Background(), workID)
	if len(logs) != 1 || logs[0].ActionType != actionFeedback {
		t.Errorf("expected one feedback log, got %+v", logs)
	}
}

func TestSubmitFeedbackForbiddenForNonHandler(t *testing.T) {
	engine, store, _ := newTestEngine()
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	intruder := store.addUser("Zhang Min", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{
		Status: models.StatusProcessing, HandlerID: &worker, CreatedAt: testStart,
	})

	_, err := engine.SubmitFeedback(context.Background(), workID, intruder, "done", nil)
	if !models.IsKind(err, models.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	// Order must be untouched.
	order, _ := store.GetOrder(context.Background(), workID)
	if order.Status != models.StatusProcessing {
		t.Errorf("status changed to %s after forbidden feedback", order.Status)
	}
	if logs, _ := store.Logs(context.Background(), workID); len(logs) != 0 {
		t.Errorf("log written for forbidden feedback: %+v", logs)
	}
}

func TestReportToCaptain(t *testing.T) {
	engine, store, _ := newTestEngine()
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{
		Status: models.StatusProcessing, HandlerID: &worker, CreatedAt: testStart,
	})

	if err := engine.ReportToCaptain(context.Background(), workID, worker); err != nil {
		t.Fatalf("ReportToCaptain failed: %v", err)
	}
	order, _ := store.GetOrder(context.Background(), workID)
	if order.Status != models.StatusReported {
		t.Errorf("status = %s, want %s", order.Status, models.StatusReported)
	}

	// Reporting again is an invalid transition, not a silent no-op.
	if err := engine.ReportToCaptain(context.Background(), workID, worker); !models.IsKind(err, models.KindInvalidTransition) {
		t.Fatalf("second report: expected InvalidTransition, got %v", err)
	}
}

func TestReassign(t *testing.T) {
	engine, store, clock := newTestEngine()
	captain := store.addUser("Captain Chen", models.RoleAreaCaptain)
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{Status: models.StatusReported, CreatedAt: testStart})

	if err := engine.Reassign(context.Background(), workID, worker, nil, captain); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}

	order, _ := store.GetOrder(context.Background(), workID)
	if order.Status != models.StatusProcessing {
		t.Errorf("status = %s, want %s", order.Status, models.StatusProcessing)
	}
	if order.HandlerID == nil || *order.HandlerID != worker {
		t.Errorf("handler = %v, want %s", order.HandlerID, worker)
	}
	wantDue := clock.Now().Add(defaultReassignDeadline)
	if order.Deadline == nil || !order.Deadline.Equal(wantDue) {
		t.Errorf("deadline = %v, want %v", order.Deadline, wantDue)
	}

	logs, _ := store.Logs(context.Background(), workID)
	if len(logs) != 1 {
		t.Fatalf("expected one reassign log, got %d", len(logs))
	}
	if logs[0].ActionType != actionReassign ||
		!strings.Contains(logs[0].ActionDescription, "Li Wei") ||
		!strings.Contains(logs[0].ActionDescription, wantDue.Format("2006-01-02 15:04")) {
		t.Errorf("reassign log = %+v", logs[0])
	}
}

func TestReassignExplicitDeadline(t *testing.T) {
	engine, store, _ := newTestEngine()
	captain := store.addUser("Captain Chen", models.RoleAreaCaptain)
	worker := store.addUser("Li Wei", models.RoleGridWorker)
	workID := store.addOrder(models.WorkOrder{Status: models.StatusUnclaimed, CreatedAt: testStart})

	due := testStart.Add(3 * time.Hour)
	if err := engine.Reassign(context.Background(), workID, worker, &due, captain); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}
	order, _ := store.GetOrder(context.Background(), workID)
	if order.Deadline == nil || !order.Deadline.Equal(due) {
		t.Errorf("deadline = %v, want %v", order.Deadline, due)
	}
}

func TestReassignInvalidStatus(t *testing.T) {
	engine, store, _ := newTestEngine()
	captain := store.addUser("Captain Chen", models.RoleAreaCaptain)
	worker := store.addUser("Li Wei", models.RoleGridWorker)

	for _, status := range []models.WorkOrderStatus{models.StatusProcessing, models.StatusCompleted} {
		workID := store.addOrder(models.WorkOrder{Status: status, CreatedAt: testStart})
		err := engine.Reassign(context.Background(), workID, worker, nil, captain)
		if !models.IsKind(err, models.KindInvalidTransition) {
			t.Errorf("reassign from %s: expected InvalidTransition, got %v", status, err)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	engine, store, _ := newTestEngine()
	admin := store.addUser("Admin", models.RoleSuperAdmin)
	workID := store.addOrder(models.WorkOrder{Status: models.StatusProcessing, CreatedAt: testStart})

	order, err := engine.UpdateStatus(context.Background(), workID, models.StatusCompleted,
		admin.String(), models.RoleSuperAdmin, "resolved out of band", nil)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if order.ResolutionNote != "resolved out of band" || order.ResolvedAt == nil {
		t.Errorf("resolution fields not set: %+v", order)
	}

	// Completed is terminal for every supervisory transition.
	_, err = engine.UpdateStatus(context.Background(), workID, models.StatusProcessing,
		admin.String(), models.RoleSuperAdmin, "", nil)
	if !models.IsKind(err, models.KindInvalidTransition) {
		t.Fatalf("transition out of completed: expected InvalidTransition, got %v", err)
	}
}

func TestEscalate(t *testing.T) {
	engine, store, _ := newTestEngine()
	workID := store.addOrder(models.WorkOrder{Status: models.StatusProcessing, CreatedAt: testStart})

	if err := engine.Escalate(context.Background(), workID, models.StatusProcessing, "timed out"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	order, _ := store.GetOrder(context.Background(), workID)
	if order.Status != models.StatusReported {
		t.Errorf("status = %s, want %s", order.Status, models.StatusReported)
	}
	logs, _ := store.Logs(context.Background(), workID)
	if len(logs) != 1 || logs[0].ActorID != models.SystemActorID || logs[0].ActionType != actionSystemTimeout {
		t.Errorf("expected a system-timeout log by the system actor, got %+v", logs)
	}

	// Escalating a completed order is rejected by the state machine.
	doneID := store.addOrder(models.WorkOrder{Status: models.StatusCompleted, CreatedAt: testStart})
	if err := engine.Escalate(context.Background(), doneID, models.StatusCompleted, "timed out"); !models.IsKind(err, models.KindInvalidTransition) {
		t.Fatalf("escalate completed: expected InvalidTransition, got %v", err)
	}
}
