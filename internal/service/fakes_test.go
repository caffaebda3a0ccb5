package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/makaohq/makao/internal/domain"
)

// In-memory stores mirroring the conditional-write contracts of the
// postgres adapters, so lifecycle and reconciliation logic is exercised
// against the same semantics the real stores provide.

type memInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
	items    map[string][]domain.LineItem
	numbers  map[string]bool

	// countOverride pins CountNumbersInPeriod to a fixed value, which lets
	// tests force repeated allocation collisions.
	countOverride *int64

	createErr error
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{
		invoices: make(map[string]*domain.Invoice),
		items:    make(map[string][]domain.LineItem),
		numbers:  make(map[string]bool),
	}
}

func (s *memInvoiceStore) CreateWithItems(ctx context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if s.numbers[inv.InvoiceNumber] {
		return ErrDuplicateInvoiceNumber
	}
	s.numbers[inv.InvoiceNumber] = true
	cp := *inv
	cp.Items = nil
	s.invoices[inv.ID] = &cp
	s.items[inv.ID] = append([]domain.LineItem(nil), inv.Items...)
	return nil
}

func (s *memInvoiceStore) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (s *memInvoiceStore) Items(ctx context.Context, invoiceID string) ([]domain.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LineItem(nil), s.items[invoiceID]...), nil
}

func (s *memInvoiceStore) List(ctx context.Context, companyID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range s.invoices {
		if companyID != "" && inv.CompanyID != companyID {
			continue
		}
		if filter.TenantID != "" && inv.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if len(filter.PropertyIDs) > 0 && !containsStr(filter.PropertyIDs, inv.PropertyID) {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *memInvoiceStore) ListByStatus(ctx context.Context, companyID string, statuses []domain.InvoiceStatus) ([]domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range s.invoices {
		if companyID != "" && inv.CompanyID != companyID {
			continue
		}
		for _, st := range statuses {
			if inv.Status == st {
				out = append(out, *inv)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *memInvoiceStore) UpdateStatus(ctx context.Context, id string, from, to domain.InvoiceStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	inv.UpdatedAt = time.Now()
	return true, nil
}

func (s *memInvoiceStore) MarkPaid(ctx context.Context, id string, froms []domain.InvoiceStatus, params domain.MarkPaidParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, st := range froms {
		if inv.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusPaid
	paidAt := params.PaidAt
	inv.PaidAt = &paidAt
	inv.PaymentMethod = params.Method
	inv.PaymentReference = params.Reference
	inv.UpdatedAt = time.Now()
	return true, nil
}

func (s *memInvoiceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invoices, id)
	delete(s.items, id)
	return nil
}

func (s *memInvoiceStore) CountNumbersInPeriod(ctx context.Context, companyID, propertyCode string, year int, month time.Month) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countOverride != nil {
		return *s.countOverride, nil
	}
	var n int64
	for _, inv := range s.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		if inv.IssueDate.Year() == year && inv.IssueDate.Month() == month {
			n++
		}
	}
	return n, nil
}

type memPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	receipts map[string]bool

	createErr error
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{
		payments: make(map[string]*domain.Payment),
		receipts: make(map[string]bool),
	}
}

func (s *memPaymentStore) Create(ctx context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if p.ReceiptNumber != "" && s.receipts[p.ReceiptNumber] {
		return ErrDuplicateReceiptNumber
	}
	if p.ReceiptNumber != "" {
		s.receipts[p.ReceiptNumber] = true
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *memPaymentStore) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memPaymentStore) List(ctx context.Context, companyID string, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if companyID != "" && p.CompanyID != companyID {
			continue
		}
		if filter.TenantID != "" && p.TenantID != filter.TenantID {
			continue
		}
		if filter.InvoiceID != "" && p.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memPaymentStore) ListUnlinkedApproved(ctx context.Context, companyID string) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if companyID != "" && p.CompanyID != companyID {
			continue
		}
		if p.Status != domain.PaymentStatusApproved || p.InvoiceID != "" {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memPaymentStore) LinkToInvoice(ctx context.Context, paymentID, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return false, nil
	}
	if p.InvoiceID != "" && p.InvoiceID != invoiceID {
		return false, nil
	}
	p.InvoiceID = invoiceID
	return true, nil
}

func (s *memPaymentStore) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil
	}
	p.Status = status
	p.ProcessedAt = &processedAt
	return nil
}

func (s *memPaymentStore) SumApprovedForInvoice(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID && p.Status == domain.PaymentStatusApproved {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (s *memPaymentStore) CountReceiptsInYear(ctx context.Context, companyID string, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payments {
		if p.CompanyID == companyID && p.CreatedAt.Year() == year && p.ReceiptNumber != "" {
			n++
		}
	}
	return n, nil
}

// fakeResolver answers relationship questions from fixed maps.
type fakeResolver struct {
	accessibleTenants map[string]bool
	ownedProperties   map[string][]string // userID -> property ids
	assignments       map[string][]string // agentID -> property ids
	err               error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		accessibleTenants: make(map[string]bool),
		ownedProperties:   make(map[string][]string),
		assignments:       make(map[string][]string),
	}
}

func (r *fakeResolver) TenantAccessible(ctx context.Context, actor domain.Actor, tenantID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.accessibleTenants[tenantID], nil
}

func (r *fakeResolver) PropertyOwned(ctx context.Context, userID, propertyID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return containsStr(r.ownedProperties[userID], propertyID), nil
}

func (r *fakeResolver) ActiveAssignment(ctx context.Context, agentID, propertyID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return containsStr(r.assignments[agentID], propertyID), nil
}

func (r *fakeResolver) AssignedProperties(ctx context.Context, agentID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.assignments[agentID], nil
}

func (r *fakeResolver) OwnedProperties(ctx context.Context, userID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.ownedProperties[userID], nil
}

type fakePrefs struct {
	grace    map[string]int
	defaults map[string]domain.BillingDefaults
	err      error
}

func (p *fakePrefs) GracePeriodDays(ctx context.Context, companyID string) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.grace[companyID], nil
}

func (p *fakePrefs) BillingDefaults(ctx context.Context, companyID string) (domain.BillingDefaults, error) {
	if p.err != nil {
		return domain.BillingDefaults{}, p.err
	}
	return p.defaults[companyID], nil
}

// Recording collaborators with optional injected failures.

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *fakeNotifier) NotifyInvoice(ctx context.Context, event string, inv *domain.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) eventCount(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e == event {
			count++
		}
	}
	return count
}

type fakeSnapshots struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSnapshots) RecordSnapshot(ctx context.Context, inv *domain.Invoice, revision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls++
	return nil
}

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (t *fakeTokens) IssueVerificationToken(ctx context.Context, invoiceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.calls++
	return nil
}

// fakeVerifier confirms gateway references against a scripted response.
type fakeVerifier struct {
	tx  *domain.GatewayTransaction
	err error
}

func (v *fakeVerifier) VerifyTransaction(ctx context.Context, reference string) (*domain.GatewayTransaction, error) {
	if v.err != nil {
		return nil, v.err
	}
	if v.tx == nil {
		return nil, domain.NotFound("gateway.verify", "transaction", reference)
	}
	tx := *v.tx
	if tx.Reference == "" {
		tx.Reference = reference
	}
	return &tx, nil
}

func containsStr(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// billingFixture wires a full service graph over in-memory stores.
type billingFixture struct {
	invoices  *memInvoiceStore
	payments  *memPaymentStore
	resolver  *fakeResolver
	prefs     *fakePrefs
	notifier  *fakeNotifier
	snapshots *fakeSnapshots
	tokens    *fakeTokens
	verifier  *fakeVerifier
	service   domain.InvoiceService
}

func newBillingFixture() *billingFixture {
	f := &billingFixture{
		invoices:  newMemInvoiceStore(),
		payments:  newMemPaymentStore(),
		resolver:  newFakeResolver(),
		prefs: &fakePrefs{
			grace:    make(map[string]int),
			defaults: make(map[string]domain.BillingDefaults),
		},
		notifier:  &fakeNotifier{},
		snapshots: &fakeSnapshots{},
		tokens:    &fakeTokens{},
		verifier:  &fakeVerifier{},
	}
	alloc := NewSequenceAllocator(f.invoices, f.payments)
	f.service = NewInvoiceService(
		f.invoices, f.payments, alloc,
		f.resolver, f.prefs,
		f.notifier, f.snapshots, f.tokens,
		nil,
	)
	return f
}

func (f *billingFixture) reconciler() domain.Reconciler {
	return NewReconciler(f.payments, f.invoices, f.service, f.resolver, nil)
}

func (f *billingFixture) sweeper() domain.OverdueSweeper {
	return NewOverdueSweeper(f.invoices, f.prefs, f.notifier, nil)
}

func (f *billingFixture) intake() domain.PaymentIntake {
	alloc := NewSequenceAllocator(f.invoices, f.payments)
	return NewPaymentIntake(f.payments, alloc, f.resolver, f.verifier, nil)
}

// seedInvoice inserts an invoice directly into the store, bypassing the
// lifecycle, for tests that need a specific starting state.
func (f *billingFixture) seedInvoice(id, companyID, tenantID string, status domain.InvoiceStatus, dueDate time.Time, total decimal.Decimal) *domain.Invoice {
	inv := &domain.Invoice{
		ID:            id,
		CompanyID:     companyID,
		TenantID:      tenantID,
		InvoiceNumber: "INV-SEED-" + id,
		Currency:      "KES",
		Subtotal:      total,
		TotalAmount:   total,
		IssueDate:     dueDate.AddDate(0, 0, -14),
		DueDate:       dueDate,
		Status:        status,
		CreatedBy:     "admin-1",
	}
	if err := f.invoices.CreateWithItems(context.Background(), inv); err != nil {
		panic(err)
	}
	return inv
}

// seedPayment inserts a payment directly into the store.
func (f *billingFixture) seedPayment(id, companyID, tenantID string, status domain.PaymentStatus, amount decimal.Decimal, createdAt time.Time) *domain.Payment {
	p := &domain.Payment{
		ID:            id,
		CompanyID:     companyID,
		TenantID:      tenantID,
		Amount:        amount,
		Currency:      "KES",
		Method:        domain.PaymentMethodMobileMoney,
		Type:          domain.PaymentTypeRent,
		Status:        status,
		ReceiptNumber: "RCT-SEED-" + id,
		CreatedAt:     createdAt,
	}
	if err := f.payments.Create(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

func adminActor(companyID string) domain.Actor {
	return domain.Actor{ID: "admin-1", Role: domain.RoleAdmin, CompanyID: companyID}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
