package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/google/uuid"
)

// memStore is an in-memory domain.Store for service tests. RunInTx runs the
// callback against the same store under a single lock, which mirrors the
// per-entity serialization the postgres implementation provides.
type memStore struct {
	mu sync.Mutex

	orders          map[uuid.UUID]*domain.Order
	payments        map[uuid.UUID]*domain.Payment
	refunds         []*domain.Refund
	plans           map[uuid.UUID]*domain.Plan
	subscriptions   map[uuid.UUID]*domain.Subscription
	invoices        map[uuid.UUID]*domain.Invoice
	dunningAttempts map[uuid.UUID]*domain.DunningAttempt
	webhookEvents   map[string]*domain.WebhookEventRecord
	jobs            map[uuid.UUID]*domain.Job
}

func newMemStore() *memStore {
	return &memStore{
		orders:          make(map[uuid.UUID]*domain.Order),
		payments:        make(map[uuid.UUID]*domain.Payment),
		plans:           make(map[uuid.UUID]*domain.Plan),
		subscriptions:   make(map[uuid.UUID]*domain.Subscription),
		invoices:        make(map[uuid.UUID]*domain.Invoice),
		dunningAttempts: make(map[uuid.UUID]*domain.DunningAttempt),
		webhookEvents:   make(map[string]*domain.WebhookEventRecord),
		jobs:            make(map[uuid.UUID]*domain.Job),
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, (*memStoreTx)(m))
}

// memStoreTx is the store handed to RunInTx callbacks. It shares state with
// the parent but skips locking, since the parent already holds the mutex.
type memStoreTx memStore

func (m *memStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	return fn(ctx, m)
}

func (m *memStoreTx) CreateOrder(_ context.Context, order *domain.Order) error {
	clone := *order
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.orders[order.ID] = &clone
	return nil
}

func (m *memStoreTx) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

func (m *memStoreTx) GetOrderByProviderPaymentID(_ context.Context, providerPaymentID string) (*domain.Order, error) {
	for _, order := range m.orders {
		if order.ProviderPaymentID == providerPaymentID {
			clone := *order
			return &clone, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (m *memStoreTx) UpdateOrderStatus(_ context.Context, id uuid.UUID, status string) error {
	order, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	return nil
}

func (m *memStoreTx) CreatePayment(_ context.Context, payment *domain.Payment) error {
	clone := *payment
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.payments[payment.ID] = &clone
	return nil
}

func (m *memStoreTx) GetPaymentByProviderID(_ context.Context, providerPaymentID string) (*domain.Payment, error) {
	for _, payment := range m.payments {
		if payment.ProviderPaymentID == providerPaymentID {
			clone := *payment
			return &clone, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *memStoreTx) UpdatePayment(_ context.Context, payment *domain.Payment) error {
	if _, ok := m.payments[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	clone := *payment
	clone.UpdatedAt = time.Now()
	m.payments[payment.ID] = &clone
	return nil
}

func (m *memStoreTx) CreateRefund(_ context.Context, refund *domain.Refund) error {
	clone := *refund
	m.refunds = append(m.refunds, &clone)
	return nil
}

func (m *memStoreTx) GetPlan(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	plan, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	clone := *plan
	return &clone, nil
}

func (m *memStoreTx) CreateSubscription(_ context.Context, sub *domain.Subscription) error {
	clone := *sub
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.subscriptions[sub.ID] = &clone
	return nil
}

func (m *memStoreTx) GetSubscription(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (m *memStoreTx) GetSubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	for _, sub := range m.subscriptions {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (m *memStoreTx) UpdateSubscription(_ context.Context, sub *domain.Subscription) error {
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return domain.ErrSubscriptionNotFound
	}
	clone := *sub
	clone.UpdatedAt = time.Now()
	m.subscriptions[sub.ID] = &clone
	return nil
}

func (m *memStoreTx) CreateInvoice(_ context.Context, invoice *domain.Invoice) error {
	clone := *invoice
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *memStoreTx) GetInvoiceByProviderID(_ context.Context, providerInvoiceID string) (*domain.Invoice, error) {
	for _, invoice := range m.invoices {
		if invoice.ProviderInvoiceID == providerInvoiceID {
			clone := *invoice
			return &clone, nil
		}
	}
	return nil, domain.ErrInvoiceNotFound
}

func (m *memStoreTx) GetLatestPaidInvoice(_ context.Context, subscriptionID uuid.UUID) (*domain.Invoice, error) {
	var latest *domain.Invoice
	for _, invoice := range m.invoices {
		if invoice.SubscriptionID != subscriptionID || invoice.Status != domain.InvoiceStatusPaid {
			continue
		}
		if latest == nil || invoice.PeriodStart.After(latest.PeriodStart) {
			latest = invoice
		}
	}
	if latest == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *memStoreTx) UpdateInvoice(_ context.Context, invoice *domain.Invoice) error {
	if _, ok := m.invoices[invoice.ID]; !ok {
		return domain.ErrInvoiceNotFound
	}
	clone := *invoice
	clone.UpdatedAt = time.Now()
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *memStoreTx) CreateDunningAttempt(_ context.Context, attempt *domain.DunningAttempt) error {
	for _, existing := range m.dunningAttempts {
		if existing.SubscriptionID == attempt.SubscriptionID &&
			existing.AttemptNumber == attempt.AttemptNumber &&
			existing.Outcome == domain.DunningOutcomePending {
			return domain.ErrDuplicateDunningAttempt
		}
	}
	clone := *attempt
	clone.CreatedAt = time.Now()
	m.dunningAttempts[attempt.ID] = &clone
	return nil
}

func (m *memStoreTx) GetDunningAttempt(_ context.Context, id uuid.UUID) (*domain.DunningAttempt, error) {
	attempt, ok := m.dunningAttempts[id]
	if !ok {
		return nil, domain.Errorf(domain.ENOTFOUND, "memstore.getDunningAttempt", "dunning attempt not found")
	}
	clone := *attempt
	return &clone, nil
}

func (m *memStoreTx) ListPendingDunningAttempts(_ context.Context, subscriptionID uuid.UUID) ([]domain.DunningAttempt, error) {
	var out []domain.DunningAttempt
	for _, attempt := range m.dunningAttempts {
		if attempt.SubscriptionID == subscriptionID && attempt.Outcome == domain.DunningOutcomePending {
			out = append(out, *attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (m *memStoreTx) CountResolvedDunningAttempts(_ context.Context, subscriptionID, invoiceID uuid.UUID) (int32, error) {
	var n int32
	for _, attempt := range m.dunningAttempts {
		if attempt.SubscriptionID == subscriptionID &&
			attempt.InvoiceID == invoiceID &&
			attempt.Outcome != domain.DunningOutcomePending {
			n++
		}
	}
	return n, nil
}

func (m *memStoreTx) ResolveDunningAttempt(_ context.Context, id uuid.UUID, outcome string) error {
	attempt, ok := m.dunningAttempts[id]
	if !ok {
		return domain.Errorf(domain.ENOTFOUND, "memstore.resolveDunningAttempt", "dunning attempt not found")
	}
	now := time.Now()
	attempt.Outcome = outcome
	attempt.ResolvedAt = &now
	return nil
}

func (m *memStoreTx) ClaimWebhookEvent(_ context.Context, record *domain.WebhookEventRecord) (bool, error) {
	existing, ok := m.webhookEvents[record.ProviderEventID]
	if ok && (existing.Processed || existing.ErrorDetail == "") {
		return false, nil
	}
	clone := *record
	clone.Processed = false
	clone.ErrorDetail = ""
	m.webhookEvents[record.ProviderEventID] = &clone
	return true, nil
}

func (m *memStoreTx) GetWebhookEvent(_ context.Context, providerEventID string) (*domain.WebhookEventRecord, error) {
	record, ok := m.webhookEvents[providerEventID]
	if !ok {
		return nil, domain.Errorf(domain.ENOTFOUND, "memstore.getWebhookEvent", "webhook event not found")
	}
	clone := *record
	return &clone, nil
}

func (m *memStoreTx) UpsertWebhookEvent(_ context.Context, record *domain.WebhookEventRecord) error {
	clone := *record
	m.webhookEvents[record.ProviderEventID] = &clone
	return nil
}

func (m *memStoreTx) EnqueueJob(_ context.Context, job *domain.Job) error {
	clone := *job
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memStoreTx) ClaimNextJob(_ context.Context, workerID, queue string) (*domain.Job, error) {
	var next *domain.Job
	now := time.Now()
	for _, job := range m.jobs {
		if job.Queue != queue || job.Status != domain.JobStatusPending || job.ScheduledAt.After(now) {
			continue
		}
		if next == nil || job.ScheduledAt.Before(next.ScheduledAt) {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}
	next.Status = domain.JobStatusRunning
	clone := *next
	return &clone, nil
}

func (m *memStoreTx) CompleteJob(_ context.Context, id uuid.UUID) error {
	job, ok := m.jobs[id]
	if !ok {
		return domain.Errorf(domain.ENOTFOUND, "memstore.completeJob", "job not found")
	}
	job.Status = domain.JobStatusCompleted
	return nil
}

func (m *memStoreTx) FailJob(_ context.Context, id uuid.UUID, errorMessage string) error {
	job, ok := m.jobs[id]
	if !ok {
		return domain.Errorf(domain.ENOTFOUND, "memstore.failJob", "job not found")
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errorMessage
	return nil
}

// Non-transactional passthroughs. Each takes the lock and delegates to the
// tx view, matching how the pool-backed store runs single statements.
func (m *memStore) tx() *memStoreTx { return (*memStoreTx)(m) }

func (m *memStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateOrder(ctx, order)
}

func (m *memStore) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetOrder(ctx, id)
}

func (m *memStore) GetOrderByProviderPaymentID(ctx context.Context, providerPaymentID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetOrderByProviderPaymentID(ctx, providerPaymentID)
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdateOrderStatus(ctx, id, status)
}

func (m *memStore) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreatePayment(ctx, payment)
}

func (m *memStore) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetPaymentByProviderID(ctx, providerPaymentID)
}

func (m *memStore) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdatePayment(ctx, payment)
}

func (m *memStore) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateRefund(ctx, refund)
}

func (m *memStore) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetPlan(ctx, id)
}

func (m *memStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateSubscription(ctx, sub)
}

func (m *memStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetSubscription(ctx, id)
}

func (m *memStore) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetSubscriptionByProviderID(ctx, providerSubscriptionID)
}

func (m *memStore) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdateSubscription(ctx, sub)
}

func (m *memStore) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateInvoice(ctx, invoice)
}

func (m *memStore) GetInvoiceByProviderID(ctx context.Context, providerInvoiceID string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetInvoiceByProviderID(ctx, providerInvoiceID)
}

func (m *memStore) GetLatestPaidInvoice(ctx context.Context, subscriptionID uuid.UUID) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetLatestPaidInvoice(ctx, subscriptionID)
}

func (m *memStore) UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpdateInvoice(ctx, invoice)
}

func (m *memStore) CreateDunningAttempt(ctx context.Context, attempt *domain.DunningAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CreateDunningAttempt(ctx, attempt)
}

func (m *memStore) GetDunningAttempt(ctx context.Context, id uuid.UUID) (*domain.DunningAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetDunningAttempt(ctx, id)
}

func (m *memStore) ListPendingDunningAttempts(ctx context.Context, subscriptionID uuid.UUID) ([]domain.DunningAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ListPendingDunningAttempts(ctx, subscriptionID)
}

func (m *memStore) CountResolvedDunningAttempts(ctx context.Context, subscriptionID, invoiceID uuid.UUID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CountResolvedDunningAttempts(ctx, subscriptionID, invoiceID)
}

func (m *memStore) ResolveDunningAttempt(ctx context.Context, id uuid.UUID, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ResolveDunningAttempt(ctx, id, outcome)
}

func (m *memStore) ClaimWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ClaimWebhookEvent(ctx, record)
}

func (m *memStore) GetWebhookEvent(ctx context.Context, providerEventID string) (*domain.WebhookEventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().GetWebhookEvent(ctx, providerEventID)
}

func (m *memStore) UpsertWebhookEvent(ctx context.Context, record *domain.WebhookEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().UpsertWebhookEvent(ctx, record)
}

func (m *memStore) EnqueueJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().EnqueueJob(ctx, job)
}

func (m *memStore) ClaimNextJob(ctx context.Context, workerID, queue string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().ClaimNextJob(ctx, workerID, queue)
}

func (m *memStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().CompleteJob(ctx, id)
}

func (m *memStore) FailJob(ctx context.Context, id uuid.UUID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().FailJob(ctx, id, errorMessage)
}
