// Package handlers is the HTTP surface: prediction upload, sensor ingestion,
// gamification queries, treatment insights and marketplace listings.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/krishimitra/pdr-api/internal/insights"
	"github.com/krishimitra/pdr-api/internal/labels"
	"github.com/krishimitra/pdr-api/internal/market"
	"github.com/krishimitra/pdr-api/internal/pipeline"
	"github.com/krishimitra/pdr-api/internal/sensors"
	"github.com/krishimitra/pdr-api/internal/stats"
	"github.com/krishimitra/pdr-api/internal/store"
)

// maxUploadBytes bounds the multipart form parse for image uploads.
const maxUploadBytes = 10 << 20

type Handler struct {
	pipeline *pipeline.Pipeline
	ledger   *stats.Ledger
	recorder *sensors.Recorder
	market   *market.Market
	insights *insights.Table
	store    store.Store
	logger   *zap.Logger
	topK     int
	stubbed  bool
}

func NewHandler(
	p *pipeline.Pipeline,
	ledger *stats.Ledger,
	recorder *sensors.Recorder,
	mkt *market.Market,
	table *insights.Table,
	st store.Store,
	logger *zap.Logger,
	topK int,
	stubbed bool,
) *Handler {
	if topK < 1 {
		topK = 5
	}
	return &Handler{
		pipeline: p,
		ledger:   ledger,
		recorder: recorder,
		market:   mkt,
		insights: table,
		store:    st,
		logger:   logger,
		topK:     topK,
		stubbed:  stubbed,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness plus degraded-mode flags: which persistence
// backend is active and whether the classifier is the stub.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	model := "onnx"
	if h.stubbed {
		model = "stub"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"store":         h.store.Name(),
		"model":         model,
		"normalization": h.pipeline.Mode().String(),
	})
}

// rankedClass is one entry of the top-k list in a prediction response.
type rankedClass struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Predict accepts a leaf photo as multipart field "file" (or "image"),
// classifies it and returns the top prediction with advice. When the caller
// identifies a user, the ledger update runs and the fresh profile rides
// along in the response.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	h.logger.Debug("received image",
		zap.String("filename", header.Filename), zap.Int("bytes", len(data)))

	ranked, err := h.pipeline.Classify(r.Context(), data, h.topK)
	if err != nil {
		if errors.Is(err, pipeline.ErrDecode) {
			writeError(w, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, BMP, WEBP")
			return
		}
		h.logger.Error("classification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	top := ranked[0]
	disease := labels.Name(top.Index)
	resp := map[string]any{
		"disease":      disease,
		"confidence":   top.Confidence,
		"display_name": labels.Display(disease),
	}

	topList := make([]rankedClass, len(ranked))
	for i, p := range ranked {
		topList[i] = rankedClass{Class: labels.Name(p.Index), Confidence: p.Confidence}
	}
	resp["top_predictions"] = topList

	if in, ok := h.insights.Lookup(disease); ok {
		resp["insight"] = in
	}

	// History append mirrors the dashboard's predictions feed; a failure
	// here must not fail the prediction itself.
	if _, err := h.store.Add(r.Context(), "predictions", map[string]any{
		"disease":    disease,
		"confidence": top.Confidence,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		h.logger.Warn("failed to append prediction history", zap.Error(err))
	}

	if userID := h.userID(r); userID != "" {
		profile, err := h.ledger.UpdatePrediction(r.Context(), userID, disease, float64(top.Confidence))
		if err != nil {
			h.logger.Warn("ledger update failed",
				zap.String("user_id", userID), zap.Error(err))
		} else {
			resp["profile"] = profile
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) userID(r *http.Request) string {
	if id := r.FormValue("user_id"); id != "" {
		return id
	}
	return r.Header.Get("X-User-ID")
}

// Sensors ingests one JSON reading, stamps it server-side and echoes the
// stored document back.
func (h *Handler) Sensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	reading := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	doc, err := h.recorder.Record(r.Context(), reading)
	if err != nil {
		h.logger.Error("sensor ingestion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store sensor data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"data_received": doc,
	})
}

// SensorsRecent returns the newest readings for the monitoring dashboard.
func (h *Handler) SensorsRecent(w http.ResponseWriter, r *http.Request) {
	docs, err := h.recorder.Recent(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		h.logger.Error("sensor query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load sensor data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": docs})
}

// Profile returns the user's gamification summary, zero-valued for unknown
// users.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	summary, err := h.ledger.ProfileSummary(r.Context(), userID)
	if err != nil {
		h.logger.Error("profile load failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ResetStreak zeroes the user's current streak. Exposed for a caller-driven
// missed-a-day trigger; the service never invokes it on its own.
func (h *Handler) ResetStreak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	userID := r.FormValue("user_id")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.ledger.ResetStreak(r.Context(), userID); err != nil {
		h.logger.Error("streak reset failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to reset streak")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Leaderboard returns the top users by points.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Leaderboard(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error("leaderboard query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

// History returns the user's prediction log grouped by disease.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	history, err := h.ledger.DiseaseHistory(r.Context(), userID)
	if err != nil {
		h.logger.Error("history query failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// Insights returns the static treatment advice for one disease class.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	disease := r.URL.Query().Get("disease")
	if disease == "" {
		writeError(w, http.StatusBadRequest, "disease is required")
		return
	}
	in, ok := h.insights.Lookup(disease)
	if !ok {
		writeError(w, http.StatusNotFound, "No insight available for this disease")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"disease":      disease,
		"display_name": labels.Display(disease),
		"insight":      in,
	})
}

// Listings browses or creates marketplace records depending on the method.
func (h *Handler) Listings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listings, err := h.market.List(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			h.logger.Error("listings query failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load listings")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
	case http.MethodPost:
		var l market.Listing
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		created, err := h.market.Create(r.Context(), l)
		if err != nil {
			if errors.Is(err, market.ErrMissingName) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error("listing creation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store listing")
			return
		}
		writeJSON(w, http.StatusOK, created)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
