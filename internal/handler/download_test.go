package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadHandler_FreemiumFlow(t *testing.T) {
	s := newTestServer(t)
	s.putPolicy(t, `{"mode":"freemium","free_count":1,"price_per_asset":500,"currency":"USD"}`)
	s.addAsset(t, "a")
	s.addAsset(t, "b")

	path := func(asset string) string {
		return "/galleries/" + testSession + "/assets/" + asset + "/download"
	}

	rec := s.client(t, "viewer", http.MethodGet, path("a"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "allow_free", body["decision"])
	assert.Equal(t, float64(0), body["free_remaining"])
	assert.Contains(t, body["url"], "signature=")
	assert.NotEmpty(t, body["expires_at"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = s.client(t, "viewer", http.MethodGet, path("b"), "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "requires_payment", body["decision"])
	assert.Nil(t, body["url"])
	quote := body["quote"].(map[string]any)
	assert.Equal(t, float64(500), quote["subtotal"])
	assert.Equal(t, float64(41), quote["tax"])
	assert.Equal(t, float64(541), quote["total"])
	assert.Equal(t, "USD", quote["currency"])

	rec = s.client(t, "viewer", http.MethodGet, path("a"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "allow_redownload", decode(t, rec)["decision"])

	// Another viewer has their own allowance.
	rec = s.client(t, "other", http.MethodGet, path("b"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "allow_free", decode(t, rec)["decision"])
}

func TestDownloadHandler_Errors(t *testing.T) {
	s := newTestServer(t)
	s.putPolicy(t, `{"mode":"free","currency":"USD"}`)
	s.addAsset(t, "a")

	rec := s.do(t, http.MethodGet, "/galleries/"+testSession+"/assets/a/download", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.client(t, "viewer", http.MethodGet, "/galleries/"+testSession+"/assets/missing/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	rec = s.client(t, "viewer", http.MethodGet, "/galleries/unknown/assets/a/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadHandler_Status(t *testing.T) {
	s := newTestServer(t)
	s.putPolicy(t, `{"mode":"freemium","free_count":2,"price_per_asset":300,"currency":"EUR","tax_included":true}`)
	s.addAsset(t, "a")

	rec := s.client(t, "viewer", http.MethodGet, "/galleries/"+testSession+"/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["free_remaining"])
	assert.Empty(t, body["downloads"])

	s.client(t, "viewer", http.MethodGet, "/galleries/"+testSession+"/assets/a/download", "")

	rec = s.client(t, "viewer", http.MethodGet, "/galleries/"+testSession+"/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "freemium", body["mode"])
	assert.Equal(t, true, body["tax_included"])
	assert.Equal(t, float64(1), body["free_remaining"])
	downloads := body["downloads"].([]any)
	require.Len(t, downloads, 1)
	assert.Equal(t, "a", downloads[0].(map[string]any)["asset_id"])
	assert.Equal(t, false, downloads[0].(map[string]any)["paid"])
}
