package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.OrchestratorInterval != 30*time.Second {
		t.Fatalf("orchestrator interval = %s", cfg.OrchestratorInterval)
	}
	if cfg.ConsumerGroup != "orchestrator" {
		t.Fatalf("consumer group = %q", cfg.ConsumerGroup)
	}
	if len(cfg.InboundStreams) == 0 || cfg.InboundStreams[0] != "approvals.requests" {
		t.Fatalf("unexpected inbound streams %v", cfg.InboundStreams)
	}
	if cfg.MaxEscalations != 3 {
		t.Fatalf("max escalations = %d", cfg.MaxEscalations)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_INTERVAL", "5s")
	t.Setenv("INBOUND_STREAMS", " a.events , ,b.events")
	t.Setenv("AUTO_APPROVE_LIMIT", "2500.5")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.OrchestratorInterval != 5*time.Second {
		t.Fatalf("interval override ignored: %s", cfg.OrchestratorInterval)
	}
	if len(cfg.InboundStreams) != 2 || cfg.InboundStreams[1] != "b.events" {
		t.Fatalf("list parsing failed: %v", cfg.InboundStreams)
	}
	if cfg.AutoApproveLimit != 2500.5 {
		t.Fatalf("float override ignored: %v", cfg.AutoApproveLimit)
	}
	if !cfg.ArchiveS3PathStyle {
		t.Fatalf("bool override ignored")
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.RedisDB)
	}
}
