// Package config provides configuration helpers for go-oculab commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default service configuration.
const (
	DefaultWebPort      = "8090"
	DefaultDetectorURL  = "ws://localhost:9001/landmarks"
	DefaultMQTTBroker   = "tcp://localhost:1883"
	DefaultMQTTClientID = "oculab-monitor"
	DefaultStorePath    = ".oculab/calibration.json"
)

// Load reads a .env file if one exists. Missing files are not an error;
// real environments set variables directly.
func Load() {
	_ = godotenv.Load()
}

// String returns the env var value or the provided default.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// StringRequired returns the env var value or exits with a usage hint.
func StringRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		fmt.Fprintf(os.Stderr, "Usage: %s=... go run ./cmd/...\n", key)
		os.Exit(1)
	}
	return v
}

// Float returns the env var parsed as float64 or the provided default.
func Float(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Duration returns the env var parsed as a duration or the provided default.
func Duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// WebPort returns the dashboard port from OCULAB_PORT.
func WebPort() string {
	return String("OCULAB_PORT", DefaultWebPort)
}

// DetectorURL returns the landmark sidecar websocket URL from DETECTOR_URL.
func DetectorURL() string {
	return String("DETECTOR_URL", DefaultDetectorURL)
}

// MQTTBroker returns the broker URL from MQTT_BROKER.
func MQTTBroker() string {
	return String("MQTT_BROKER", DefaultMQTTBroker)
}

// StorePath returns the calibration store path from OCULAB_STORE.
func StorePath() string {
	return String("OCULAB_STORE", DefaultStorePath)
}
