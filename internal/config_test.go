package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestHostConfig_Driver(t *testing.T) {
	cfg := NewDefaultConfig().Host
	cfg.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver should fail validation")
	}

	cfg.Driver = DriverMySQL
	cfg.MySQL.User = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("mysql without user should fail validation")
	}

	cfg.MySQL.User = "wp"
	cfg.MySQL.Name = "wordpress"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete mysql config should pass: %v", err)
	}
}

func TestSyncConfig(t *testing.T) {
	cfg := SyncConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty sync config should pass: %v", err)
	}
	if cfg.BatchSize != 20 {
		t.Errorf("batch size = %d, want default 20", cfg.BatchSize)
	}

	cfg = SyncConfig{BatchSize: 5, Schedule: "@every 1h"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("descriptor schedule should pass: %v", err)
	}

	cfg = SyncConfig{BatchSize: 5, Schedule: "every tuesday"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "schedule") {
		t.Errorf("bad schedule error = %v", err)
	}

	cfg = SyncConfig{BatchSize: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("negative batch size should fail validation")
	}
}
