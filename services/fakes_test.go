package services_test

import (
	"context"
	"sync"
	"time"

	"checkout-service/gateway"
	"checkout-service/models"
	"checkout-service/repository"
	"checkout-service/staging"

	"github.com/google/uuid"
)

// ---- mocks ----

type memOrders struct {
	mu      sync.Mutex
	byTx    map[string]*models.Order
	byRef   map[string]string
	creates int

	// hooks for failure injection
	createErr error
	findErr   error
}

func newMemOrders() *memOrders {
	return &memOrders{byTx: map[string]*models.Order{}, byRef: map[string]string{}}
}

func (m *memOrders) FindByTransactionID(_ context.Context, txID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.byTx[txID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) Create(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byTx[order.TransactionID]; ok {
		return repository.ErrDuplicateTransaction
	}
	if order.GatewayReference != nil {
		if _, ok := m.byRef[*order.GatewayReference]; ok {
			return repository.ErrDuplicateTransaction
		}
		m.byRef[*order.GatewayReference] = order.TransactionID
	}
	order.ID = uuid.New()
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	order.CreatedAt = time.Now()
	cp := *order
	m.byTx[order.TransactionID] = &cp
	m.creates++
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byTx {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrders) FindByCustomerEmail(_ context.Context, email string, page, limit int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.byTx {
		if o.Customer.Email == email {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memOrders) FindAll(_ context.Context, page, limit int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.byTx {
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id uuid.UUID, from, to models.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byTx {
		if o.ID != id {
			continue
		}
		if o.Status != from {
			return repository.ErrStatusConflict
		}
		o.Status = to
		return nil
	}
	return repository.ErrOrderNotFound
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTx)
}

type memStaging struct {
	mu      sync.Mutex
	entries map[string]models.PendingOrder
	cleared []string
}

func newMemStaging() *memStaging {
	return &memStaging{entries: map[string]models.PendingOrder{}}
}

func (s *memStaging) Put(_ context.Context, txID string, order *models.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[txID]; ok && existing.Owner != order.Owner {
		return staging.ErrOwnerMismatch
	}
	s.entries[txID] = *order
	return nil
}

func (s *memStaging) Get(_ context.Context, txID string) (*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[txID]
	if !ok {
		return nil, staging.ErrNotFound
	}
	return &p, nil
}

func (s *memStaging) Clear(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, txID)
	s.cleared = append(s.cleared, txID)
	return nil
}

func (s *memStaging) has(txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[txID]
	return ok
}

type lookupFunc func(ctx context.Context, pidx string) (*gateway.LookupResult, error)

func (f lookupFunc) Lookup(ctx context.Context, pidx string) (*gateway.LookupResult, error) {
	return f(ctx, pidx)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *capturePublisher) PublishOrderEvent(_ context.Context, evt models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) all() []models.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderEvent(nil), p.events...)
}

type captureAudit struct {
	mu       sync.Mutex
	attempts []models.CallbackAttempt
}

func (a *captureAudit) Record(_ context.Context, attempt *models.CallbackAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, *attempt)
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[name]++
	return nil
}

func (m *countingMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}
