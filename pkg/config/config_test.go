package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Limits.MaxBatchSize != 100 {
		t.Errorf("max batch = %d, want 100", cfg.Limits.MaxBatchSize)
	}
	if cfg.Limits.IngestLimit != 10 || cfg.Limits.IngestWindow != time.Minute {
		t.Errorf("ingest limits = %d/%v, want 10/1m", cfg.Limits.IngestLimit, cfg.Limits.IngestWindow)
	}
	if cfg.Limits.GeneralLimit != 100 || cfg.Limits.GeneralWindow != 15*time.Minute {
		t.Errorf("general limits = %d/%v, want 100/15m", cfg.Limits.GeneralLimit, cfg.Limits.GeneralWindow)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Error("kafka relay should be disabled by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9999
  production: true
postgres:
  host: db.internal
limits:
  ingestLimit: 3
scoring:
  extraKeywords:
    infostealer: -4
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 || !cfg.Server.Production {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %q", cfg.Postgres.Host)
	}
	if cfg.Postgres.Port != 5432 {
		t.Error("unset fields should keep defaults")
	}
	if cfg.Limits.IngestLimit != 3 {
		t.Errorf("ingest limit = %d, want 3", cfg.Limits.IngestLimit)
	}
	if cfg.Scoring.ExtraKeywords["infostealer"] != -4 {
		t.Errorf("extra keywords = %v", cfg.Scoring.ExtraKeywords)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DW_SERVER_PORT", "7070")
	t.Setenv("DW_POSTGRES_HOST", "pg.override")
	t.Setenv("DW_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Postgres.Host != "pg.override" {
		t.Errorf("postgres host = %q", cfg.Postgres.Host)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "h", Port: 5432, Database: "d", User: "u", Password: "p", SSLMode: "disable",
	}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
