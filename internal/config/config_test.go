package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_MissingDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty storage.dbPath")
	}
}

func TestValidate_RateLimits(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.MaxPerHour = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxPerHour=0")
	}

	cfg = Defaults()
	cfg.RateLimit.MaxPerDay = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxPerDay=0")
	}

	cfg = Defaults()
	cfg.RateLimit.MaxPerHour = 20
	cfg.RateLimit.MaxPerDay = 10
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for daily limit below hourly limit")
	}
}

func TestValidate_EnabledChannelNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled whatsapp without credentials")
	}

	cfg = Defaults()
	cfg.WhatsApp.Enabled = true
	cfg.WhatsApp.AccessToken = "token"
	cfg.WhatsApp.PhoneNumberID = "555000"
	if err := Validate(cfg); err != nil {
		t.Fatalf("credentialed whatsapp should be valid: %v", err)
	}

	cfg = Defaults()
	cfg.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = level
		if err := Validate(cfg); err != nil {
			t.Fatalf("level %q should be valid: %v", level, err)
		}
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Server.APIKey = "test-key"
	original.Hub.WebhookURL = "https://hub.example.com/webhooks/courier"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Server.APIKey != "test-key" {
		t.Fatalf("expected 'test-key', got %q", loaded.Server.APIKey)
	}
	if loaded.Hub.WebhookURL != original.Hub.WebhookURL {
		t.Fatalf("expected %q, got %q", original.Hub.WebhookURL, loaded.Hub.WebhookURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	// Invalid: maxPerHour=0
	content := `{
		"rateLimit": {
			"maxPerHour": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxPerHour=0")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("COURIER_TEST_TOKEN", "tok-from-env")
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"server": {"apiKey": "${COURIER_TEST_TOKEN}"},
		"general": {"logLevel": "${COURIER_TEST_LEVEL:-debug}"}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.APIKey != "tok-from-env" {
		t.Fatalf("expected env value, got %q", cfg.Server.APIKey)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected default for unset var, got %q", cfg.General.LogLevel)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.logLevel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "info" {
		t.Fatalf("expected 'info', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.logLevel", "debug"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected 'debug', got %q", cfg.General.LogLevel)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "whatsapp.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.WhatsApp.Enabled {
		t.Fatal("expected whatsapp.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "rateLimit.maxPerHour", "5"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.RateLimit.MaxPerHour != 5 {
		t.Fatalf("expected 5, got %d", cfg.RateLimit.MaxPerHour)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.WhatsApp.AccessToken = "EAAGm0PX4ZCpsBO1234567890"
	cfg.WhatsApp.AppSecret = "whatsapp-app-secret"
	cfg.Hub.WebhookSecret = "hub-secret"

	sanitized := Sanitize(cfg)

	if sanitized.Telegram.Token == cfg.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.WhatsApp.AccessToken == cfg.WhatsApp.AccessToken {
		t.Fatal("whatsapp access token should be masked")
	}
	if sanitized.WhatsApp.AppSecret != "***" {
		t.Fatalf("app secret should be fully masked, got %q", sanitized.WhatsApp.AppSecret)
	}
	if sanitized.Hub.WebhookSecret != "***" {
		t.Fatalf("hub secret should be fully masked, got %q", sanitized.Hub.WebhookSecret)
	}
	// Verify original is untouched
	if cfg.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Server.APIKey != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Server.APIKey)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "storage.dbPath", "rateLimit.maxPerHour"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}
