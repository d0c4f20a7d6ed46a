package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"enrollment-service/gateway"
	"enrollment-service/models"
	"enrollment-service/repository"
	"enrollment-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testSecret        = "s3cr3t"
	testWebhookSecret = "rzp_whsec"
)

// ---- catalog ----

type fakeCourseRepo struct {
	mu      sync.Mutex
	courses map[string]models.Course
	err     error
}

func newFakeCourseRepo(courses ...models.Course) *fakeCourseRepo {
	r := &fakeCourseRepo{courses: map[string]models.Course{}}
	for _, c := range courses {
		r.courses[c.ID] = c
	}
	return r
}

func (r *fakeCourseRepo) put(c models.Course) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.ID] = c
}

func (r *fakeCourseRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.courses, id)
}

func (r *fakeCourseRepo) published(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[id]
	return ok && c.IsPurchasable()
}

func (r *fakeCourseRepo) FindByIDs(_ context.Context, ids []string) ([]models.Course, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Course
	for _, id := range ids {
		if c, ok := r.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func course(id, price, currency string) models.Course {
	return models.Course{
		ID:       id,
		Title:    "Course " + id,
		Price:    decimal.RequireFromString(price),
		Currency: currency,
		Status:   models.CourseStatusPublished,
	}
}

// ---- orders ----

type memOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	createErr   error
	transitions map[models.OrderStatus]int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]*models.Order{}, transitions: map[models.OrderStatus]int{}}
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func (r *memOrderRepo) Create(_ context.Context, order *models.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.OrderID]; ok {
		return repository.ErrDuplicateKey
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.OrderID
		order.Items[i].Position = i
	}
	r.orders[order.OrderID] = copyOrder(order)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r *memOrderRepo) TransitionStatus(_ context.Context, orderID string, to models.OrderStatus, from ...models.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			r.transitions[to]++
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrderRepo) status(orderID string) models.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID].Status
}

func (r *memOrderRepo) transitionCount(to models.OrderStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[to]
}

// ---- payment ledger, enforcing the (provider, payment_id) unique key ----

type memPaymentRepo struct {
	mu               sync.Mutex
	records          map[string]*models.PaymentRecord
	inserts          int
	writes           int
	markCompletedErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{records: map[string]*models.PaymentRecord{}}
}

func key(provider, paymentID string) string { return provider + "|" + paymentID }

func (r *memPaymentRepo) InsertPaymentRecord(_ context.Context, record *models.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(record.Provider, record.PaymentID)
	if _, ok := r.records[k]; ok {
		return repository.ErrDuplicateKey
	}
	c := *record
	c.UpdatedAt = time.Now().UTC()
	r.records[k] = &c
	r.inserts++
	r.writes++
	return nil
}

func (r *memPaymentRepo) FindPaymentRecord(_ context.Context, provider, paymentID string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key(provider, paymentID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *memPaymentRepo) byID(id uuid.UUID) *models.PaymentRecord {
	for _, rec := range r.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *memPaymentRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markCompletedErr != nil {
		return r.markCompletedErr
	}
	rec := r.byID(id)
	if rec == nil {
		return repository.ErrNotFound
	}
	rec.Status = models.PaymentStatusCompleted
	rec.LastError = nil
	rec.UpdatedAt = time.Now().UTC()
	r.writes++
	return nil
}

func (r *memPaymentRepo) MarkFailedFulfillment(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.byID(id)
	if rec == nil {
		return repository.ErrNotFound
	}
	rec.Status = models.PaymentStatusFailedFulfillment
	rec.LastError = &reason
	rec.Attempts++
	rec.UpdatedAt = time.Now().UTC()
	r.writes++
	return nil
}

func (r *memPaymentRepo) ListForReconciliation(_ context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentRecord
	for _, rec := range r.records {
		if rec.Attempts >= maxAttempts {
			continue
		}
		if rec.Status == models.PaymentStatusFailedFulfillment ||
			(rec.Status == models.PaymentStatusProcessing && rec.UpdatedAt.Before(staleBefore)) {
			out = append(out, *rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memPaymentRepo) get(provider, paymentID string) *models.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key(provider, paymentID)]
	if !ok {
		return nil
	}
	c := *rec
	return &c
}

// age moves a record's last update into the past.
func (r *memPaymentRepo) age(provider, paymentID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key(provider, paymentID)]; ok {
		rec.UpdatedAt = rec.UpdatedAt.Add(-d)
	}
}

func (r *memPaymentRepo) counts() (inserts, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts, r.writes
}

// ---- enrollments ----

type memEnrollmentRepo struct {
	mu            sync.Mutex
	catalog       *fakeCourseRepo
	rows          map[string]models.Enrollment
	calls         int
	transientErrs int    // fail this many calls before succeeding
	onCall        func() // runs at the start of every insert
}

var errStoreDown = errors.New("connection refused")

func newMemEnrollmentRepo(catalog *fakeCourseRepo) *memEnrollmentRepo {
	return &memEnrollmentRepo{catalog: catalog, rows: map[string]models.Enrollment{}}
}

func (r *memEnrollmentRepo) InsertEnrollmentsAtomic(_ context.Context, studentID string, courseIDs []string, paymentRecordID uuid.UUID) ([]models.Enrollment, error) {
	if r.onCall != nil {
		r.onCall()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.transientErrs > 0 {
		r.transientErrs--
		return nil, errStoreDown
	}
	for _, id := range courseIDs {
		if !r.catalog.published(id) {
			return nil, repository.ErrCourseMissing
		}
	}
	var out []models.Enrollment
	for _, id := range courseIDs {
		prID := paymentRecordID
		e := models.Enrollment{ID: uuid.New(), StudentID: studentID, CourseID: id, PaymentRecordID: &prID, IsActive: true, EnrolledAt: time.Now()}
		r.rows[studentID+"|"+id] = e
		out = append(out, e)
	}
	return out, nil
}

func (r *memEnrollmentRepo) ListByStudent(_ context.Context, studentID, courseID string) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Enrollment
	for _, e := range r.rows {
		if e.StudentID == studentID && e.IsActive && (courseID == "" || e.CourseID == courseID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEnrollmentRepo) ListByPaymentRecord(_ context.Context, paymentRecordID uuid.UUID) ([]models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Enrollment
	for _, e := range r.rows {
		if e.IsActive && e.PaymentRecordID != nil && *e.PaymentRecordID == paymentRecordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memEnrollmentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memEnrollmentRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ---- gateway ----

type fakeGateway struct {
	mu         sync.Mutex
	name       string
	payments   map[string]gateway.PaymentFacts
	orderID    string
	createErr  error
	fetchErr   error
	created    []gateway.CreateOrderRequest
	fetchCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]gateway.PaymentFacts{}, orderID: "order_abc"}
}

func (g *fakeGateway) Name() string {
	if g.name != "" {
		return g.name
	}
	return gateway.ProviderRazorpay
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return gateway.Order{}, g.createErr
	}
	g.created = append(g.created, req)
	return gateway.Order{ID: g.orderID, AmountMinor: req.AmountMinor, Currency: req.Currency, Status: "created"}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, paymentID string) (gateway.PaymentFacts, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return gateway.PaymentFacts{}, g.fetchErr
	}
	facts, ok := g.payments[paymentID]
	if !ok {
		return gateway.PaymentFacts{}, gateway.ErrPaymentNotFound
	}
	return facts, nil
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCalls
}

func captured(paymentID, orderID string, amountMinor int64, currency string) gateway.PaymentFacts {
	return gateway.PaymentFacts{
		PaymentID:   paymentID,
		OrderID:     orderID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Status:      models.GatewayStatusCaptured,
	}
}

// ---- notifier sinks ----

type fakeEvents struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, evt models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEvents) ofType(t string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeReview struct {
	mu    sync.Mutex
	items []models.ReviewItem
}

func (f *fakeReview) Enqueue(_ context.Context, item models.ReviewItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeReview) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, it := range f.items {
		out = append(out, it.Kind)
	}
	return out
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeArchiver) Archive(_ context.Context, key string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

// ---- harness ----

type harness struct {
	courses     *fakeCourseRepo
	orders      *memOrderRepo
	payments    *memPaymentRepo
	enrollments *memEnrollmentRepo
	gw          *fakeGateway
	events      *fakeEvents
	review      *fakeReview
	archiver    *fakeArchiver

	engine     *services.FulfillmentEngine
	orderSvc   services.OrderService
	paymentSvc services.PaymentService
	reconciler *services.Reconciler
}

func newHarness(t *testing.T, courses ...models.Course) *harness {
	t.Helper()
	logger := zap.NewNop()

	h := &harness{
		courses:  newFakeCourseRepo(courses...),
		orders:   newMemOrderRepo(),
		payments: newMemPaymentRepo(),
		gw:       newFakeGateway(),
		events:   &fakeEvents{},
		review:   &fakeReview{},
		archiver: &fakeArchiver{},
	}
	h.enrollments = newMemEnrollmentRepo(h.courses)

	notifier := services.NewNotifier(h.events, h.review, logger)
	verifier := services.NewSignatureVerifier(testSecret, testWebhookSecret, logger)
	resolver := services.NewPaymentResolver(h.orders, h.gw, notifier, time.Second, logger)
	h.engine = services.NewFulfillmentEngine(h.payments, h.enrollments, h.orders, notifier, 3, time.Second, logger)

	h.orderSvc = services.NewOrderService(h.courses, h.orders, h.gw, time.Second, logger)
	h.paymentSvc = services.NewPaymentService(verifier, resolver, h.engine, h.payments, h.gw, notifier, h.archiver, logger)
	h.reconciler = services.NewReconciler(h.payments, h.engine, time.Minute, 5, 10, logger)
	return h
}

// seedOrder stores a pending order as if CreateOrder had run.
func (h *harness) seedOrder(t *testing.T, orderID, buyerID, amount, currency string, courseIDs ...string) {
	t.Helper()
	order := &models.Order{
		OrderID:        orderID,
		BuyerID:        buyerID,
		Currency:       currency,
		ExpectedAmount: decimal.RequireFromString(amount),
		Receipt:        "rcpt_" + orderID,
		Provider:       gateway.ProviderRazorpay,
		Status:         models.OrderStatusPending,
	}
	for _, id := range courseIDs {
		order.Items = append(order.Items, models.OrderItem{CourseID: id})
	}
	if err := h.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func verifyReq(buyerID, orderID, paymentID string) services.VerifyRequest {
	return services.VerifyRequest{
		BuyerID:   buyerID,
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: services.ComputeSignature(testSecret, orderID, paymentID),
	}
}
