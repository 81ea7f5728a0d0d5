package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/krishimitra/pdr-api/internal/config"
	"github.com/krishimitra/pdr-api/internal/handlers"
	"github.com/krishimitra/pdr-api/internal/insights"
	"github.com/krishimitra/pdr-api/internal/labels"
	"github.com/krishimitra/pdr-api/internal/market"
	"github.com/krishimitra/pdr-api/internal/model"
	"github.com/krishimitra/pdr-api/internal/pipeline"
	"github.com/krishimitra/pdr-api/internal/sensors"
	"github.com/krishimitra/pdr-api/internal/stats"
	"github.com/krishimitra/pdr-api/internal/store"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// resolveClassifier loads the ONNX checkpoint when present, otherwise the
// deterministic stub so the service still answers requests without a model
// artifact.
func resolveClassifier(cfg *config.Config, logger *zap.Logger) (model.Classifier, bool) {
	if _, err := os.Stat(cfg.ModelPath); err == nil {
		c, err := model.NewONNXClassifier(cfg.ModelPath, cfg.ModelMetadataPath)
		if err == nil {
			if c.Classes() != labels.Count {
				logger.Warn("checkpoint class count differs from label table",
					zap.Int("checkpoint", c.Classes()), zap.Int("labels", labels.Count))
			}
			logger.Info("model loaded", zap.String("path", cfg.ModelPath))
			return c, false
		}
		logger.Warn("failed to load model, using stub classifier", zap.Error(err))
	} else {
		logger.Warn("model artifact not found, using stub classifier",
			zap.String("path", cfg.ModelPath))
	}
	return model.NewStubClassifier(labels.Count, cfg.StubClass), true
}

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	mode, err := pipeline.ParseNormalizationMode(cfg.NormalizationMode)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	st := store.Resolve(store.ResolveOptions{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisTimeout:  cfg.RedisTimeout,
		DataDir:       cfg.DataDir,
	}, logger)
	defer st.Close()

	classifier, stubbed := resolveClassifier(cfg, logger)
	defer classifier.Close()

	table, err := insights.Load()
	if err != nil {
		logger.Fatal("failed to load insights table", zap.Error(err))
	}

	pipe := pipeline.New(classifier, mode, logger)
	ledger := stats.NewLedger(st, logger)
	recorder := sensors.NewRecorder(st, logger)
	mkt := market.New(st)

	if cfg.MQTTBroker != "" {
		ingestor, err := sensors.NewIngestor(cfg.MQTTBroker, cfg.MQTTTopic, recorder, logger)
		if err != nil {
			logger.Warn("mqtt ingestion disabled", zap.Error(err))
		} else {
			defer ingestor.Close()
		}
	}

	handler := handlers.NewHandler(pipe, ledger, recorder, mkt, table, st, logger, cfg.TopK, stubbed)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/predict", enableCORS(handler.Predict))
	mux.HandleFunc("/sensors", enableCORS(handler.Sensors))
	mux.HandleFunc("/sensors/recent", enableCORS(handler.SensorsRecent))
	mux.HandleFunc("/stats/profile", enableCORS(handler.Profile))
	mux.HandleFunc("/stats/streak/reset", enableCORS(handler.ResetStreak))
	mux.HandleFunc("/stats/leaderboard", enableCORS(handler.Leaderboard))
	mux.HandleFunc("/stats/history", enableCORS(handler.History))
	mux.HandleFunc("/insights", enableCORS(handler.Insights))
	mux.HandleFunc("/market/listings", enableCORS(handler.Listings))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("store", st.Name()),
			zap.String("normalization", mode.String()),
			zap.Bool("stub_model", stubbed))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
