// Package sensors ingests field telemetry: arbitrary JSON readings are
// stamped with a server-side UTC timestamp and persisted verbatim. Readings
// arrive either over HTTP or, when a broker is configured, over MQTT.
package sensors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishimitra/pdr-api/internal/store"
)

// Collection is the store collection sensor readings land in.
const Collection = "sensor_readings"

// Recorder stamps and persists readings. It owns no schema: whatever object
// the device sends is stored as-is plus a "timestamp" field.
type Recorder struct {
	store  store.Store
	logger *zap.Logger
	clock  func() time.Time
}

func NewRecorder(st store.Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Record stamps the reading with the current UTC time, persists it and
// returns the stored document. An existing "timestamp" field from the device
// is overwritten; the server clock is authoritative for ordering.
func (r *Recorder) Record(ctx context.Context, reading map[string]any) (map[string]any, error) {
	doc := make(map[string]any, len(reading)+1)
	for k, v := range reading {
		doc[k] = v
	}
	doc["timestamp"] = r.clock().Format(time.RFC3339Nano)

	id, err := r.store.Add(ctx, Collection, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to store sensor reading: %w", err)
	}
	r.logger.Debug("sensor reading stored", zap.String("id", id))
	return doc, nil
}

// Recent returns the latest readings, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	docs, err := r.store.Query(ctx, Collection, "timestamp", true, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", err)
	}
	return docs, nil
}
