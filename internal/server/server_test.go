package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopsheet/shopsheet/pkg/apply"
	"github.com/shopsheet/shopsheet/pkg/etsy"
	"github.com/shopsheet/shopsheet/pkg/etsy/etsytest"
	"github.com/shopsheet/shopsheet/pkg/preview"
	"github.com/shopsheet/shopsheet/pkg/sheet"
	"github.com/shopsheet/shopsheet/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csvFile(rows ...string) []byte {
	return []byte(strings.Join(append([]string{strings.Join(sheet.Header, ",")}, rows...), "\r\n") + "\r\n")
}

func mug() etsy.Listing {
	return etsy.Listing{
		ListingID: 555,
		Title:     "Old Mug",
		State:     "active",
		Quantity:  3,
		Price:     etsy.Price{Amount: 1000, Divisor: 100, CurrencyCode: "USD"},
	}
}

func newTestServer(t *testing.T, user, pass string) (*Server, *etsytest.Fake) {
	t.Helper()
	fake := etsytest.New()
	fake.Add(mug(), nil)

	db, err := storage.Open(filepath.Join(t.TempDir(), "server.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pe := &preview.Engine{Catalog: fake}
	ae := &apply.Engine{Catalog: fake, Store: db, Audit: db}
	return New(fake, pe, ae, db, db, user, pass), fake
}

func upload(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "listings.csv")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, "admin", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBasicAuthGuardsAPI(t *testing.T) {
	s, _ := newTestServer(t, "admin", "secret")
	h := s.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreviewEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/preview", csvFile(",New Mug,,,,N/A,,,,,12.50"), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp preview.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, "change_1", resp.Changes[0].ChangeID)
	assert.Equal(t, preview.ChangeCreate, resp.Changes[0].Type)
	assert.Equal(t, 1, resp.Summary.Creates)
}

func TestPreviewRejectsMalformedFile(t *testing.T) {
	s, _ := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/preview", []byte("just,some\nrandom,cells\n"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
}

func TestApplyEndpoint(t *testing.T) {
	s, fake := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	data := csvFile("555,,,,,N/A,,,,,,,,DELETE")
	s.Router().ServeHTTP(rec, upload(t, "/api/apply", data, map[string]string{"accepted": "all"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res apply.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []int64{555}, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, fake.CallsTo("DeleteListing"))

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var outcomes []storage.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, storage.ActionDelete, outcomes[0].Action)
}

func TestApplyRequiresAccepted(t *testing.T) {
	s, fake := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/apply", csvFile("555,,,,,N/A,,,,,,,,DELETE"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, fake.CallsTo("DeleteListing"))
}

func TestApplyWithoutCreateDefaults(t *testing.T) {
	s, _ := newTestServer(t, "", "")
	fake := etsytest.New()
	s.Apply.Catalog = fake
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/apply", csvFile(",New Mug,,,,N/A,,,,,12.50"), map[string]string{"accepted": "all"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackupEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/backup", csvFile("555,New Title"), map[string]string{"accepted": "change_1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "backup_")

	listings, err := sheet.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Old Mug", listings[0].Title)
}

func TestBackupAfterDeleteWasApplied(t *testing.T) {
	s, fake := newTestServer(t, "", "")
	data := csvFile("555,,,,,N/A,,,,,,,,DELETE")

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/apply", data, map[string]string{"accepted": "all"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, fake.CallsTo("DeleteListing"))

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, upload(t, "/api/backup", data, map[string]string{"accepted": "all"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listings, err := sheet.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestExportEndpoint(t *testing.T) {
	s, fake := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export?format=xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, fake.CallsTo("ListListings"))

	listings, err := sheet.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, int64(555), listings[0].ID)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoteFailureIsBadGateway(t *testing.T) {
	s, fake := newTestServer(t, "", "")
	fake.Fail("ListListings", 0, &etsy.APIError{StatusCode: 500, Method: "GET", Path: "/listings", Message: "boom"})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
