package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/proofsheet/internal/billing"
	"github.com/DukeRupert/proofsheet/internal/cache"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/storage"
	"github.com/DukeRupert/proofsheet/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

const (
	testSession = "wedding-42"
	testClient  = "client-a"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFiles is an in-memory storage.Storage.
type fakeFiles struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{keys: make(map[string]bool)}
}

func (f *fakeFiles) add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
}

func (f *fakeFiles) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://files.test/" + key + "?ttl=" + expires.String(), nil
}

func (f *fakeFiles) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" || key[0] == '/' {
		return false, &storage.StorageError{Op: "Exists", Key: key, Err: storage.ErrInvalidKey}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], nil
}

// fakeGateway records checkout requests and issues sequential references.
type fakeGateway struct {
	mu        sync.Mutex
	requests  []billing.CheckoutRequest
	expired   []string
	refunds   []billing.RefundRequest
	err       error
	refundErr error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	ref := "cs_test_" + req.CheckoutID.String()
	return &billing.CheckoutSession{ID: ref, URL: "https://pay.test/" + ref}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(ctx context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, ref)
	return nil
}

func (g *fakeGateway) RefundCheckoutSession(ctx context.Context, req billing.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, errors.New("not used")
}

type testEnv struct {
	store     *store.MemoryStore
	files     *fakeFiles
	gateway   *fakeGateway
	policies  PolicyService
	downloads DownloadService
	checkouts CheckoutService
	assets    AssetService
}

func newTestEnv(t *testing.T, taxBPS int64) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	files := newFakeFiles()
	gw := &fakeGateway{}
	logger := testLogger()

	policies := NewPolicyService(st, cache.NopCache{}, logger)
	return &testEnv{
		store:     st,
		files:     files,
		gateway:   gw,
		policies:  policies,
		downloads: NewDownloadService(st, policies, files, FlatTaxRate(taxBPS), 10*time.Minute, logger),
		checkouts: NewCheckoutService(st, policies, gw, FlatTaxRate(taxBPS), time.Hour, logger),
		assets:    NewAssetService(st, files, logger),
	}
}

func (e *testEnv) putPolicy(t *testing.T, p domain.PricingPolicy) {
	t.Helper()
	if p.SessionID == "" {
		p.SessionID = testSession
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	_, err := e.policies.Put(context.Background(), p)
	require.NoError(t, err)
}

func (e *testEnv) addAssets(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		key := storage.AssetKey(testSession, id, id+".jpg")
		e.files.add(key)
		_, err := e.assets.Register(context.Background(), domain.Asset{
			SessionID: testSession,
			AssetID:   id,
			Filename:  id + ".jpg",
		})
		require.NoError(t, err)
	}
}

func (e *testEnv) grantSet(t *testing.T, clientKey string) domain.GrantSet {
	t.Helper()
	grants, err := e.store.ListGrants(context.Background(), testSession, clientKey)
	require.NoError(t, err)
	return domain.GrantSetFrom(grants)
}
