package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Fatalf("max_iterations default = %d, want 20", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.RateLimitCalls != 20 {
		t.Fatalf("rate_limit_calls default = %d, want 20", cfg.Agent.RateLimitCalls)
	}
	if cfg.Agent.RateLimitWindow != 60*time.Second {
		t.Fatalf("rate_limit_window default = %v, want 60s", cfg.Agent.RateLimitWindow)
	}
	if cfg.Search.Provider != "tavily" {
		t.Fatalf("search provider default = %q, want tavily", cfg.Search.Provider)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", DBName: "vaultmind", User: "app", Password: "pw"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	want := "postgres://app:pw@db:5432/vaultmind?sslmode=disable"
	if dsn != want {
		t.Fatalf("DSN = %q, want %q", dsn, want)
	}

	p = PostgresConfig{URL: "postgres://x"}
	dsn, err = p.DSN()
	if err != nil || dsn != "postgres://x" {
		t.Fatalf("DSN with URL = %q, %v", dsn, err)
	}

	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatal("expected error for unconfigured postgres")
	}
}
