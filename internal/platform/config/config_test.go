package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "orderdesk-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.RequestTimeout != 60*time.Second {
		t.Errorf("unexpected request timeout: %s", cfg.Server.RequestTimeout)
	}
	if cfg.PubSub.ProjectID != "orderdesk-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.Topic != "fulfillment-events" {
		t.Errorf("unexpected default topic %s", cfg.PubSub.Topic)
	}
	if cfg.Batch.Parallelism != 8 {
		t.Errorf("unexpected default batch parallelism: %d", cfg.Batch.Parallelism)
	}
	if cfg.Batch.MaxOrders != 500 {
		t.Errorf("unexpected default batch max orders: %d", cfg.Batch.MaxOrders)
	}
	if !cfg.Features.PublishEvents {
		t.Error("expected event publishing enabled by default")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":            "PROD",
		"API_SERVER_PORT":            "9090",
		"API_SERVER_READ_TIMEOUT":    "20s",
		"API_SERVER_WRITE_TIMEOUT":   "25s",
		"API_SERVER_IDLE_TIMEOUT":    "2m",
		"API_SERVER_REQUEST_TIMEOUT": "45s",
		"API_FIRESTORE_PROJECT_ID":   "orderdesk-prod",
		"API_PUBSUB_PROJECT_ID":      "orderdesk-events",
		"API_PUBSUB_TOPIC":           "fulfillment-prod",
		"API_BATCH_PARALLELISM":      "16",
		"API_BATCH_MAX_ORDERS":       "200",
		"API_FEATURE_PUBLISH_EVENTS": "off",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected lowered environment prod, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Server.RequestTimeout != 45*time.Second {
		t.Errorf("unexpected request timeout: %s", cfg.Server.RequestTimeout)
	}
	if cfg.PubSub.ProjectID != "orderdesk-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.Topic != "fulfillment-prod" {
		t.Errorf("unexpected topic %s", cfg.PubSub.Topic)
	}
	if cfg.Batch.Parallelism != 16 {
		t.Errorf("unexpected batch parallelism %d", cfg.Batch.Parallelism)
	}
	if cfg.Batch.MaxOrders != 200 {
		t.Errorf("unexpected batch max orders %d", cfg.Batch.MaxOrders)
	}
	if cfg.Features.PublishEvents {
		t.Error("expected event publishing disabled")
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\n# comment line\nexport API_FIRESTORE_PROJECT_ID=\"orderdesk-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "orderdesk-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadEnvMapBeatsDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	if err := os.WriteFile(envPath, []byte("API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=dot-project\n"), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	overrides := map[string]string{"API_SERVER_PORT": "6060"}
	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithEnvMap(overrides), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map override 6060, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "dot-project" {
		t.Errorf("expected dotenv project, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := invalid.Fields()
	if len(fields) != 1 || fields[0] != "Firestore.ProjectID" {
		t.Fatalf("unexpected missing fields %v", fields)
	}
}

func TestLoadRequiresTopicWhenPublishing(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":   "orderdesk-dev",
		"API_PUBSUB_TOPIC":           " ",
		"API_FEATURE_PUBLISH_EVENTS": "true",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}
