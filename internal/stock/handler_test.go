package stock

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jobtrack/internal/platform/httpx"
)

func newStockRouter(items ...Item) (chi.Router, *memoryRepo) {
	repo := newMemoryRepo(items...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, NewLedger(repo, nil, nil, logger)).MountRoutes(r)
	return r, repo
}

func doJSON(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestItemEndpointsReportAvailable(t *testing.T) {
	r, _ := newStockRouter(Item{ID: "glass", Name: "Glass 4mm", OnHand: 10, Reserved: 4, Unit: "m2"})

	rr := doJSON(r, http.MethodGet, "/stock/items", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []itemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.InDelta(t, 6, list[0].Available, qtyEpsilon)

	rr = doJSON(r, http.MethodGet, "/stock/items/glass", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var one itemView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	assert.Equal(t, "Glass 4mm", one.Name)
	assert.InDelta(t, 6, one.Available, qtyEpsilon)

	rr = doJSON(r, http.MethodGet, "/stock/items/missing", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPreviewEndpoint(t *testing.T) {
	r, repo := newStockRouter(Item{ID: "profile", Name: "Profile", OnHand: 10, Reserved: 8})

	rr := doJSON(r, http.MethodPost, "/stock/preview", `{"lines":[{"item_id":"profile","qty":5}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var out []Projection
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.InDelta(t, 2, out[0].Reservable, qtyEpsilon)
	assert.InDelta(t, 3, out[0].Shortfall, qtyEpsilon)
	assert.True(t, out[0].UsesReservedStock)
	assert.InDelta(t, 8, repo.item("profile").Reserved, qtyEpsilon, "preview must not mutate")
}

func TestPreviewEndpointErrors(t *testing.T) {
	r, _ := newStockRouter(Item{ID: "profile", OnHand: 1})

	rr := doJSON(r, http.MethodPost, "/stock/preview", `{"lines":[{"item_id":"","qty":0}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Len(t, p.Errors, 2)

	rr = doJSON(r, http.MethodPost, "/stock/preview", `{"lines":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(r, http.MethodPost, "/stock/preview", `{"lines":[{"item_id":"ghost","qty":1}]}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(r, http.MethodPost, "/stock/preview", `{"lines":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
