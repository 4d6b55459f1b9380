package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/proofsheet/internal/auth"
	"github.com/DukeRupert/proofsheet/internal/billing"
	"github.com/DukeRupert/proofsheet/internal/cache"
	"github.com/DukeRupert/proofsheet/internal/service"
	"github.com/DukeRupert/proofsheet/internal/storage"
	"github.com/DukeRupert/proofsheet/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	testSession   = "wedding-42"
	adminToken    = "admin-secret"
	webhookSecret = "whsec_handler_test"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway issues predictable payment references.
type fakeGateway struct {
	mu       sync.Mutex
	requests []billing.CheckoutRequest
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	ref := "cs_test_" + req.CheckoutID.String()
	return &billing.CheckoutSession{ID: ref, URL: "https://pay.test/" + ref}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(ctx context.Context, ref string) error {
	return nil
}

func (g *fakeGateway) RefundCheckoutSession(ctx context.Context, req billing.RefundRequest) error {
	return nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, billing.ErrWebhooksDisabled
}

func (g *fakeGateway) lastRequest(t *testing.T) billing.CheckoutRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.requests)
	return g.requests[len(g.requests)-1]
}

type testServer struct {
	mux     *http.ServeMux
	dir     string
	gateway *fakeGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	files, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath:   dir,
		BaseURL:    "http://localhost:8080/files",
		SigningKey: []byte("test-signing-key"),
	}, logger)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	gw := &fakeGateway{}
	tax := service.FlatTaxRate(825)
	policies := service.NewPolicyService(st, cache.NopCache{}, logger)
	downloads := service.NewDownloadService(st, policies, files, tax, 10*time.Minute, logger)
	checkouts := service.NewCheckoutService(st, policies, gw, tax, time.Hour, logger)
	assets := service.NewAssetService(st, files, logger)

	requireAdmin := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+adminToken {
				UnauthorizedResponse(w, r, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	withClient := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-Test-Client"); key != "" {
				r = r.WithContext(auth.SetClient(r.Context(), key))
			}
			next.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	NewPolicyHandler(policies, logger).RegisterRoutes(mux, requireAdmin)
	NewAssetHandler(assets, logger).RegisterRoutes(mux, requireAdmin)
	NewDownloadHandler(downloads, logger).RegisterRoutes(mux, withClient)
	NewCheckoutHandler(checkouts, "http://localhost:8080", logger).RegisterRoutes(mux, withClient)
	NewWebhookHandler(billing.NewStripeGateway("sk_test_unused", webhookSecret), checkouts, logger).RegisterRoutes(mux)

	return &testServer{mux: mux, dir: dir, gateway: gw}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func (s *testServer) client(t *testing.T, clientKey, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"X-Test-Client": clientKey})
}

func (s *testServer) putPolicy(t *testing.T, body string) {
	t.Helper()
	rec := s.admin(t, http.MethodPut, "/sessions/"+testSession+"/pricing", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// addAsset writes an original to disk and registers it.
func (s *testServer) addAsset(t *testing.T, assetID string) {
	t.Helper()
	key := storage.AssetKey(testSession, assetID, assetID+".jpg")
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("jpeg "+assetID), 0o644))

	body := fmt.Sprintf(`{"filename":%q}`, assetID+".jpg")
	rec := s.admin(t, http.MethodPut, "/sessions/"+testSession+"/assets/"+assetID, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) webhook(t *testing.T, eventType, paymentRef, paymentStatus string) *httptest.ResponseRecorder {
	t.Helper()
	return s.webhookSession(t, eventType, fmt.Sprintf(
		`{"id":%q,"object":"checkout.session","payment_status":%q}`, paymentRef, paymentStatus))
}

func (s *testServer) webhookSession(t *testing.T, eventType, session string) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_%d","object":"event","type":%q,"api_version":%q,"data":{"object":%s}}`,
		time.Now().UnixNano(), eventType, stripe.APIVersion, session,
	))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return s.do(t, http.MethodPost, "/webhooks/stripe", string(signed.Payload),
		map[string]string{"Stripe-Signature": signed.Header})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got %s", rec.Body.String())
	return errObj["code"].(string)
}
