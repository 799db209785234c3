// config_test.go — 配置加载测试。
package config

import "testing"

// TestLoadDefaults 验证未设置环境变量时全部采用默认值。
func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.MemoryPageSize != 100 {
		t.Errorf("MemoryPageSize = %d, want 100", cfg.MemoryPageSize)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.RuntimeQualifier != "DEFAULT" {
		t.Errorf("RuntimeQualifier = %q, want DEFAULT", cfg.RuntimeQualifier)
	}
	if cfg.StreamMaxRetries != 3 {
		t.Errorf("StreamMaxRetries = %d, want 3", cfg.StreamMaxRetries)
	}
}

// TestLoadOverrides 验证环境变量覆盖与 min 下限。
func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_MEMORY_PAGE_SIZE", "25")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("POSTGRES_POOL_MAX_SIZE", "-5") // min:"1" 兜底

	cfg := Load()
	if cfg.MemoryPageSize != 25 {
		t.Errorf("MemoryPageSize = %d, want 25", cfg.MemoryPageSize)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.PostgresPoolMaxSize != 1 {
		t.Errorf("PostgresPoolMaxSize = %d, want clamped 1", cfg.PostgresPoolMaxSize)
	}
}
