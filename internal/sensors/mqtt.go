package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ingestor subscribes to an MQTT topic and feeds JSON payloads through the
// Recorder, so field devices can publish readings without speaking HTTP.
// Non-JSON payloads are dropped with a warning; ingestion must never take
// the service down.
type Ingestor struct {
	client   mqtt.Client
	topic    string
	recorder *Recorder
	logger   *zap.Logger
}

// NewIngestor connects to the broker and subscribes. The paho client
// auto-reconnects and re-subscribes on connection loss.
func NewIngestor(broker, topic string, recorder *Recorder, logger *zap.Logger) (*Ingestor, error) {
	ing := &Ingestor{topic: topic, recorder: recorder, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("pdr-api-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(topic, 1, ing.handle); token.Wait() && token.Error() != nil {
				logger.Error("mqtt subscribe failed",
					zap.String("topic", topic), zap.Error(token.Error()))
				return
			}
			logger.Info("subscribed to sensor topic", zap.String("topic", topic))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, token.Error())
	}
	ing.client = client
	return ing, nil
}

func (i *Ingestor) handle(_ mqtt.Client, msg mqtt.Message) {
	reading := map[string]any{}
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		i.logger.Warn("dropping non-JSON sensor payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := i.recorder.Record(ctx, reading); err != nil {
		i.logger.Error("failed to record mqtt sensor reading", zap.Error(err))
	}
}

// Close disconnects from the broker, letting in-flight handlers finish.
func (i *Ingestor) Close() {
	i.client.Disconnect(250)
}
