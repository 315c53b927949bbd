package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !cfg.Auth.enabledSet {
		t.Fatalf("expected auth.enabled default to mark enabledSet true")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false")
	}
	if cfg.ListenAddress != ":8081" {
		t.Fatalf("unexpected default listen address %q", cfg.ListenAddress)
	}
}

func TestLoadParsesNodeEndpoint(t *testing.T) {
	path := writeConfig(t, "environment: dev\nnode:\n  endpoint: http://127.0.0.1:9090\n  timeout: 5s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	target, err := cfg.NodeURL()
	if err != nil {
		t.Fatalf("node url: %v", err)
	}
	if target.Host != "127.0.0.1:9090" {
		t.Fatalf("unexpected node host %q", target.Host)
	}
	if cfg.Node.Timeout.Duration != 5*time.Second {
		t.Fatalf("unexpected node timeout %s", cfg.Node.Timeout.Duration)
	}
}

func TestLoadRejectsPlaintextNodeOutsideDev(t *testing.T) {
	path := writeConfig(t, "environment: prod\nauth:\n  enabled: true\nnode:\n  endpoint: http://badge-node:8080\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected plaintext endpoint outside dev to be rejected")
	}
}

func TestLoadUpgradesPlaintextNodeWhenConfigured(t *testing.T) {
	yaml := strings.Join([]string{
		"environment: prod",
		"auth:",
		"  enabled: true",
		"security:",
		"  autoUpgradeHTTP: true",
		"node:",
		"  endpoint: http://badge-node:8080",
	}, "\n")
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	target, err := cfg.NodeURL()
	if err != nil {
		t.Fatalf("node url: %v", err)
	}
	if target.Scheme != "https" {
		t.Fatalf("expected upgraded scheme, got %q", target.Scheme)
	}
}

func TestLoadRequiresOptionalPathsWhenAllowAnonymousEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n  allowAnonymous: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when auth.allowAnonymous is true without optional paths")
	}
}

func TestLoadRequiresExplicitAuthForTLSDeployments(t *testing.T) {
	yaml := "security:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true for TLS configuration")
	}

	yaml = "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Fatalf("explicitly disabled auth should be accepted: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SB_GATEWAY_LISTEN", ":9999")
	t.Setenv("SB_GATEWAY_NODE_URL", "http://127.0.0.1:7070")
	t.Setenv("SB_GATEWAY_JWT_SECRET", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("listen override not applied: %q", cfg.ListenAddress)
	}
	if cfg.Node.Endpoint != "http://127.0.0.1:7070" {
		t.Fatalf("node override not applied: %q", cfg.Node.Endpoint)
	}
	if cfg.Auth.HMACSecret != "env-secret" {
		t.Fatalf("secret override not applied")
	}
}
