// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/lpernett/godotenv"
)

type Config struct {
	Port string

	ModelPath         string
	ModelMetadataPath string
	NormalizationMode string
	TopK              int
	StubClass         int

	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
	DataDir       string

	MQTTBroker string
	MQTTTopic  string

	LogLevel string
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load reads the environment. A missing .env file is fine; every value has a
// default or is optional, so Load never fails the process.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),

		ModelPath:         getEnv("MODEL_PATH", "models/disease_model.onnx"),
		ModelMetadataPath: getEnv("MODEL_METADATA_PATH", "models/model_metadata.json"),
		NormalizationMode: getEnv("NORMALIZATION_MODE", "scaled"),
		TopK:              getEnvInt("TOP_K", 5),
		StubClass:         getEnvInt("STUB_CLASS", 0),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTimeout:  time.Duration(getEnvInt("REDIS_TIMEOUT_SECONDS", 5)) * time.Second,
		DataDir:       getEnv("DATA_DIR", ".data"),

		MQTTBroker: getEnv("MQTT_BROKER", ""),
		MQTTTopic:  getEnv("MQTT_TOPIC", "sensors/readings"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}
