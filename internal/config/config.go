package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Workbook WorkbookConfig
	Confirm  ConfirmConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type StorageConfig struct {
	DataDir string
}

type WorkbookConfig struct {
	Path string
}

type ConfirmConfig struct {
	// Strict requires a server-issued confirmation token on every direct
	// write (HTTP and MCP). Off by default: the stock behavior gates writes
	// at the prompt and UI level only.
	Strict bool
	TTL    time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Gemini: GeminiConfig{
			Model: "gemini-3-flash-preview",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Workbook: WorkbookConfig{
			Path: filepath.Join(dataDir, "example.xlsx"),
		},
		Confirm: ConfirmConfig{
			Strict: false,
			TTL:    15 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sheetchat-data"
		}
	}
	return filepath.Join(dir, "sheetchat")
}

// Load builds the configuration from defaults and SHEETCHAT_* / GEMINI_API_KEY
// environment variables. A missing API key is not a Load error: the server
// starts without it and each chat turn fails with a configuration error until
// the key is provided. This keeps management endpoints usable without
// upstream credentials.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHEETCHAT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SHEETCHAT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Workbook.Path = filepath.Join(v, "example.xlsx")
	}
	if v := os.Getenv("SHEETCHAT_XLSX_PATH"); v != "" {
		cfg.Workbook.Path = v
	}
	if v := os.Getenv("SHEETCHAT_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("SHEETCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SHEETCHAT_STRICT_CONFIRM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Confirm.Strict = b
		}
	}
	if v := os.Getenv("SHEETCHAT_CONFIRM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Confirm.TTL = d
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	// Accept the name the Google AI SDKs document as well.
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GOOGLE_GENERATIVE_AI_API_KEY")
	}
}
