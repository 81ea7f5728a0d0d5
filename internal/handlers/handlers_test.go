package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krishimitra/pdr-api/internal/insights"
	"github.com/krishimitra/pdr-api/internal/labels"
	"github.com/krishimitra/pdr-api/internal/market"
	"github.com/krishimitra/pdr-api/internal/model"
	"github.com/krishimitra/pdr-api/internal/pipeline"
	"github.com/krishimitra/pdr-api/internal/sensors"
	"github.com/krishimitra/pdr-api/internal/stats"
	"github.com/krishimitra/pdr-api/internal/store"
)

// lateBlightClass is the table index for Tomato___Late_blight, which the
// stub classifier below always picks.
const lateBlightClass = 30

type fixture struct {
	handler *Handler
	ledger  *stats.Ledger
	store   store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	logger := zap.NewNop()

	table, err := insights.Load()
	require.NoError(t, err)

	pipe := pipeline.New(model.NewStubClassifier(labels.Count, lateBlightClass), pipeline.NormalizationScaled, logger)
	ledger := stats.NewLedger(st, logger)
	h := NewHandler(pipe, ledger, sensors.NewRecorder(st, logger), market.New(st), table, st, logger, 5, true)
	return &fixture{handler: h, ledger: ledger, store: st}
}

func leafPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field string, data []byte, extra map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "leaf.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPredictMissingFile(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(""))
	rec := httptest.NewRecorder()
	f.handler.Predict(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "No image file provided"}, decodeBody(t, rec))
}

func TestPredictInvalidImage(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Predict(rec, uploadRequest(t, "file", []byte("definitely not an image"), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Invalid image format")
}

func TestPredictMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Predict(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPredictSuccess(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Predict(rec, uploadRequest(t, "file", leafPNG(t), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Tomato___Late_blight", body["disease"])
	assert.Equal(t, "Tomato: Late blight", body["display_name"])
	assert.InDelta(t, 0.9, body["confidence"].(float64), 1e-3)

	top := body["top_predictions"].([]any)
	assert.Len(t, top, 5)

	insight := body["insight"].(map[string]any)
	assert.Equal(t, "high", insight["severity"])

	// Anonymous requests do not run the ledger.
	_, hasProfile := body["profile"]
	assert.False(t, hasProfile)

	// The dashboard feed got one record.
	docs, err := f.store.Query(context.Background(), "predictions", "timestamp", true, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Tomato___Late_blight", docs[0]["disease"])
}

func TestPredictImageFieldNameAccepted(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Predict(rec, uploadRequest(t, "image", leafPNG(t), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictUpdatesLedgerForIdentifiedUser(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Predict(rec, uploadRequest(t, "file", leafPNG(t), map[string]string{"user_id": "farmer_default"}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, float64(1), profile["predictions_made"])
	assert.Equal(t, float64(10), profile["total_points"])

	p, err := f.ledger.GetProfile(context.Background(), "farmer_default")
	require.NoError(t, err)
	assert.Equal(t, 1, p.PredictionsMade)
	assert.Contains(t, p.Badges, "first_prediction")
}

func TestPredictUserIDHeader(t *testing.T) {
	f := newFixture(t)

	req := uploadRequest(t, "file", leafPNG(t), nil)
	req.Header.Set("X-User-ID", "u9")
	rec := httptest.NewRecorder()
	f.handler.Predict(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	p, err := f.ledger.GetProfile(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, 1, p.PredictionsMade)
}

func TestSensorsEcho(t *testing.T) {
	f := newFixture(t)

	payload := `{"soil_moisture": 44.2, "device": "esp32-cam-1"}`
	req := httptest.NewRequest(http.MethodPost, "/sensors", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.Sensors(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	data := body["data_received"].(map[string]any)
	assert.Equal(t, 44.2, data["soil_moisture"])
	assert.Equal(t, "esp32-cam-1", data["device"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestSensorsRejectsBadJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/sensors", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	f.handler.Sensors(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSensorsRecent(t *testing.T) {
	f := newFixture(t)
	for _, payload := range []string{`{"n":1}`, `{"n":2}`} {
		req := httptest.NewRequest(http.MethodPost, "/sensors", strings.NewReader(payload))
		f.handler.Sensors(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	f.handler.SensorsRecent(rec, httptest.NewRequest(http.MethodGet, "/sensors/recent?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	readings := decodeBody(t, rec)["readings"].([]any)
	assert.Len(t, readings, 1)
}

func TestProfileRequiresUserID(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Profile(rec, httptest.NewRequest(http.MethodGet, "/stats/profile", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileZeroValuedForUnknownUser(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Profile(rec, httptest.NewRequest(http.MethodGet, "/stats/profile?user_id=new", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "new", body["user_id"])
	assert.Equal(t, float64(0), body["predictions_made"])
}

func TestLeaderboardEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for user, n := range map[string]int{"alice": 5, "bob": 12, "carol": 8} {
		for i := 0; i < n; i++ {
			_, err := f.ledger.UpdatePrediction(ctx, user, "Apple___Apple_scab", 0.9)
			require.NoError(t, err)
		}
	}

	rec := httptest.NewRecorder()
	f.handler.Leaderboard(rec, httptest.NewRequest(http.MethodGet, "/stats/leaderboard?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeBody(t, rec)["leaderboard"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "bob", first["user_id"])
	assert.Equal(t, float64(120), first["points"])
}

func TestResetStreakEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.UpdatePrediction(ctx, "u1", "Potato___Late_blight", 0.8)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/stats/streak/reset?user_id=u1", nil)
	rec := httptest.NewRecorder()
	f.handler.ResetStreak(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := f.ledger.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, p.CurrentStreak)
	assert.Equal(t, 1, p.MaxStreak)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []string{"a", "a", "b"} {
		_, err := f.ledger.UpdatePrediction(ctx, "u1", d, 0.5)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	f.handler.History(rec, httptest.NewRequest(http.MethodGet, "/stats/history?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	history := decodeBody(t, rec)["history"].([]any)
	require.Len(t, history, 2)
	top := history[0].(map[string]any)
	assert.Equal(t, "a", top["disease"])
	assert.Equal(t, float64(2), top["count"])
}

func TestInsightsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Insights(rec, httptest.NewRequest(http.MethodGet, "/insights?disease=Tomato___Late_blight", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Tomato: Late blight", body["display_name"])

	rec = httptest.NewRecorder()
	f.handler.Insights(rec, httptest.NewRequest(http.MethodGet, "/insights?disease=Orange___Haunglongbing_(Citrus_greening)", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.Insights(rec, httptest.NewRequest(http.MethodGet, "/insights", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListingsCreateAndBrowse(t *testing.T) {
	f := newFixture(t)

	payload := `{"name":"Organic Fertilizer","price":500,"description":"per bag","seller":"farmer_default"}`
	req := httptest.NewRequest(http.MethodPost, "/market/listings", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.Listings(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeBody(t, rec)
	assert.NotEmpty(t, created["id"])

	rec = httptest.NewRecorder()
	f.handler.Listings(rec, httptest.NewRequest(http.MethodGet, "/market/listings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	listings := decodeBody(t, rec)["listings"].([]any)
	require.Len(t, listings, 1)
	assert.Equal(t, "Organic Fertilizer", listings[0].(map[string]any)["name"])
}

func TestListingsRejectsMissingName(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/market/listings", strings.NewReader(`{"price": 10}`))
	rec := httptest.NewRecorder()
	f.handler.Listings(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsDegradedState(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "stub", body["model"])
	assert.Equal(t, "memory", body["store"])
	assert.Equal(t, "scaled", body["normalization"])
}
