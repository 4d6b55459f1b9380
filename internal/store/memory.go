package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. Data does not survive a
// restart, and a failing WithClientLock callback does not roll back writes
// it already made.
type MemoryStore struct {
	mu        sync.RWMutex
	policies  map[string]domain.PricingPolicy
	assets    map[assetKey]domain.Asset
	grants    map[grantKey]domain.DownloadGrant
	checkouts map[uuid.UUID]domain.Checkout

	locksMu sync.Mutex
	locks   map[clientKey]*sync.Mutex

	now func() time.Time
}

type assetKey struct{ session, asset string }

type clientKey struct{ session, client string }

type grantKey struct{ session, client, asset string }

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies:  make(map[string]domain.PricingPolicy),
		assets:    make(map[assetKey]domain.Asset),
		grants:    make(map[grantKey]domain.DownloadGrant),
		checkouts: make(map[uuid.UUID]domain.Checkout),
		locks:     make(map[clientKey]*sync.Mutex),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetPolicy(ctx context.Context, sessionID string) (*domain.PricingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) PutPolicy(ctx context.Context, policy *domain.PricingPolicy) (*domain.PricingPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := *policy
	p.BulkTiers = append([]byte(nil), policy.BulkTiers...)
	if existing, ok := s.policies[p.SessionID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.policies[p.SessionID] = p

	out := p
	return &out, nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, sessionID, assetID string) (*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[assetKey{sessionID, assetID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) PutAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *asset
	key := assetKey{a.SessionID, a.AssetID}
	if existing, ok := s.assets[key]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = s.now()
	}
	s.assets[key] = a

	out := a
	return &out, nil
}

func (s *MemoryStore) KnownAssets(ctx context.Context, sessionID string, assetIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	known := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := s.assets[assetKey{sessionID, id}]; ok {
			known[id] = true
		}
	}
	return known, nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, sessionID, clientKey string) ([]domain.DownloadGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []domain.DownloadGrant
	for k, g := range s.grants {
		if k.session == sessionID && k.client == clientKey {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].FirstGrantedAt.Equal(grants[j].FirstGrantedAt) {
			return grants[i].AssetID < grants[j].AssetID
		}
		return grants[i].FirstGrantedAt.Before(grants[j].FirstGrantedAt)
	})
	return grants, nil
}

func (s *MemoryStore) RecordGrant(ctx context.Context, grant domain.DownloadGrant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{grant.SessionID, grant.ClientKey, grant.AssetID}
	if _, ok := s.grants[key]; ok {
		return false, nil
	}
	if grant.FirstGrantedAt.IsZero() {
		grant.FirstGrantedAt = s.now()
	}
	s.grants[key] = grant
	return true, nil
}

func (s *MemoryStore) CreateCheckout(ctx context.Context, checkout *domain.Checkout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkouts[checkout.ID] = copyCheckout(*checkout)
	return nil
}

func (s *MemoryStore) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checkouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyCheckout(c)
	return &out, nil
}

func (s *MemoryStore) GetCheckoutByPaymentRef(ctx context.Context, paymentRef string) (*domain.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.checkouts {
		if paymentRef != "" && c.PaymentRef == paymentRef {
			out := copyCheckout(c)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetPaymentRef(ctx context.Context, id uuid.UUID, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[id]
	if !ok {
		return ErrNotFound
	}
	c.PaymentRef = paymentRef
	s.checkouts[id] = c
	return nil
}

func (s *MemoryStore) UpdateCheckoutStatus(ctx context.Context, checkout *domain.Checkout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[checkout.ID]
	if !ok {
		return ErrNotFound
	}
	c.Status = checkout.Status
	c.CompletedAt = checkout.CompletedAt
	c.RefundDue = checkout.RefundDue
	s.checkouts[checkout.ID] = c
	return nil
}

func (s *MemoryStore) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[id]
	if !ok {
		return ErrNotFound
	}
	if c.RefundedAt == nil {
		c.RefundedAt = &at
		s.checkouts[id] = c
	}
	return nil
}

func (s *MemoryStore) SupersedePending(ctx context.Context, sessionID, clientKey string, at time.Time) ([]domain.Checkout, error) {
	return s.transitionPending(domain.CheckoutStatusSuperseded, at, func(c domain.Checkout) bool {
		return c.SessionID == sessionID && c.ClientKey == clientKey
	}), nil
}

func (s *MemoryStore) ExpirePending(ctx context.Context, cutoff, at time.Time) (int64, error) {
	expired := s.transitionPending(domain.CheckoutStatusExpired, at, func(c domain.Checkout) bool {
		return c.CreatedAt.Before(cutoff)
	})
	return int64(len(expired)), nil
}

func (s *MemoryStore) transitionPending(target domain.CheckoutStatus, at time.Time, match func(domain.Checkout) bool) []domain.Checkout {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved []domain.Checkout
	for id, c := range s.checkouts {
		if c.Status != domain.CheckoutStatusPending || !match(c) {
			continue
		}
		completed := at
		c.Status = target
		c.CompletedAt = &completed
		s.checkouts[id] = c

		out := copyCheckout(c)
		out.Cart.Items = nil
		moved = append(moved, out)
	}
	return moved
}

// WithClientLock serializes fn against other callers for the same
// (session, client) pair.
func (s *MemoryStore) WithClientLock(ctx context.Context, sessionID, clientKey string, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.clientLock(sessionID, clientKey)
	lock.Lock()
	defer lock.Unlock()

	return fn(s)
}

func (s *MemoryStore) clientLock(sessionID, client string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	key := clientKey{sessionID, client}
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func copyCheckout(c domain.Checkout) domain.Checkout {
	c.Cart.Items = append([]domain.LineItem(nil), c.Cart.Items...)
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		c.CompletedAt = &t
	}
	if c.RefundedAt != nil {
		t := *c.RefundedAt
		c.RefundedAt = &t
	}
	return c
}
