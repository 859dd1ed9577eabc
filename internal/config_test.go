package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/deckpack/pkg/config"
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

func TestWorkspaceConfig_SameDefinitionsAndOutput(t *testing.T) {
	cfg := WorkspaceConfig{Definitions: "./x", Media: "./m", Output: "./x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when definitions and output coincide")
	}
}

func TestConnectConfig_DisabledSkipsValidation(t *testing.T) {
	cfg := ConnectConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled connect should pass: %v", err)
	}
	cfg.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled connect without url should fail")
	}
}

func TestBuildConfig_ModTime(t *testing.T) {
	t.Setenv(SourceDateEpochEnv, "")
	cfg := BuildConfig{}
	got, err := cfg.ModTimeValue()
	if err != nil || got.Unix() != 0 {
		t.Errorf("default = %v, %v", got, err)
	}

	t.Setenv(SourceDateEpochEnv, "1700000000")
	got, _ = cfg.ModTimeValue()
	if got.Unix() != 1700000000 {
		t.Errorf("from env = %d", got.Unix())
	}

	cfg.ModTime = 42
	got, _ = cfg.ModTimeValue()
	if got.Unix() != 42 {
		t.Errorf("configured = %d, want 42", got.Unix())
	}

	t.Setenv(SourceDateEpochEnv, "yesterday")
	if _, err := ModTimeFromEnv(); err == nil {
		t.Error("expected error for a malformed epoch")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[app]
log_level = "debug"

[app.http]
port = 9090

[workspace]
definitions = "d"
media = "m"
output = "o"

[connect]
enabled = true
url = "http://anki:8765"
timeout = "5s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Workspace.Output != "o" {
		t.Errorf("workspace = %+v", cfg.Workspace)
	}
	if time.Duration(cfg.Connect.Timeout) != 5*time.Second || cfg.Connect.URL != "http://anki:8765" {
		t.Errorf("connect = %+v", cfg.Connect)
	}
	if cfg.Auth.Mode != AuthModeDisabled {
		t.Errorf("auth mode = %q", cfg.Auth.Mode)
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "app:\n  log_level: warn\n  http:\n    port: 8081\nconnect:\n  timeout: 2s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelWarn || time.Duration(cfg.Connect.Timeout) != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Workspace.Definitions != "./decks" {
		t.Errorf("defaults lost: %+v", cfg.Workspace)
	}
}
