package domain

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier != TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Engine.CheckTimeout != 2*time.Second {
		t.Errorf("expected 2s check timeout, got %s", cfg.Engine.CheckTimeout)
	}
	if cfg.Engine.RuleCacheTTL != 30*time.Second {
		t.Errorf("expected 30s rule cache TTL, got %s", cfg.Engine.RuleCacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestProConfig(t *testing.T) {
	cfg := ProConfig()

	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected pro stack: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("pro config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPort", func(c *Config) { c.Server.Port = 0 }},
		{"ZeroTimeout", func(c *Config) { c.Engine.CheckTimeout = 0 }},
		{"ZeroWorkers", func(c *Config) { c.Engine.MaxWorkers = 0 }},
		{"UnknownDriver", func(c *Config) { c.Repository.Driver = "mysql" }},
		{"UnknownCache", func(c *Config) { c.Cache.Type = "memcached" }},
		{"KafkaWithoutBrokers", func(c *Config) { c.EventBus.Type = "kafka" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
