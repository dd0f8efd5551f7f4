package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Server.Port != 4600 {
		t.Errorf("default port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Gemini.Model == "" {
		t.Error("default model is empty")
	}
	if cfg.Confirm.Strict {
		t.Error("strict confirmation should be off by default")
	}
	if cfg.Confirm.TTL <= 0 {
		t.Error("confirmation TTL must be positive")
	}
	if cfg.Workbook.Path == "" {
		t.Error("default workbook path is empty")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHEETCHAT_PORT", "9999")
	t.Setenv("SHEETCHAT_DATA_DIR", "/tmp/sheetchat-test")
	t.Setenv("SHEETCHAT_MODEL", "gemini-test")
	t.Setenv("SHEETCHAT_STRICT_CONFIRM", "true")
	t.Setenv("SHEETCHAT_CONFIRM_TTL", "30s")
	t.Setenv("GEMINI_API_KEY", "key-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/sheetchat-test" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if want := filepath.Join("/tmp/sheetchat-test", "example.xlsx"); cfg.Workbook.Path != want {
		t.Errorf("workbook path = %q, want %q", cfg.Workbook.Path, want)
	}
	if cfg.Gemini.Model != "gemini-test" {
		t.Errorf("model = %q", cfg.Gemini.Model)
	}
	if !cfg.Confirm.Strict {
		t.Error("strict confirmation not applied from env")
	}
	if cfg.Confirm.TTL != 30*time.Second {
		t.Errorf("TTL = %v, want 30s", cfg.Confirm.TTL)
	}
	if cfg.Gemini.APIKey != "key-123" {
		t.Errorf("api key = %q", cfg.Gemini.APIKey)
	}
}

func TestWorkbookPathOverridesDataDir(t *testing.T) {
	t.Setenv("SHEETCHAT_DATA_DIR", "/tmp/d")
	t.Setenv("SHEETCHAT_XLSX_PATH", "/elsewhere/book.xlsx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workbook.Path != "/elsewhere/book.xlsx" {
		t.Errorf("workbook path = %q", cfg.Workbook.Path)
	}
}

func TestMissingAPIKeyIsNotFatal(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gemini.APIKey != "" {
		t.Errorf("api key = %q, want empty", cfg.Gemini.APIKey)
	}
}

func TestFallbackAPIKeyName(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "fallback-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gemini.APIKey != "fallback-key" {
		t.Errorf("api key = %q, want fallback-key", cfg.Gemini.APIKey)
	}
}
