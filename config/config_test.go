package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sbd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("default RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.DriverTag != "SBDG" {
		t.Fatalf("default DriverTag = %q", cfg.DriverTag)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not persisted: %v", err)
	}
	if _, err := os.Stat(cfg.OperatorKeystorePath); err != nil {
		t.Fatalf("operator keystore not created: %v", err)
	}

	driver, err := cfg.Driver()
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	if driver != 0x53424447 {
		t.Fatalf("driver = %#x, want SBDG packing", driver)
	}
}

func TestLoadParsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sbd.toml")
	keystorePath := filepath.Join(dir, "operator.keystore")
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
DriverTag = "TEST"
OperatorKeystorePath = "%s"
RPCAuthTokenEnv = "CUSTOM_TOKEN_ENV"
RPCTrustProxyHeaders = true
RPCTrustedProxies = ["10.0.0.1"]
RPCMutationsPerMinute = 120
LogFile = "./sbd.log"
LogMaxSizeMB = 64
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.DriverTag != "TEST" {
		t.Fatalf("DriverTag = %q", cfg.DriverTag)
	}
	if cfg.RPCAuthTokenEnv != "CUSTOM_TOKEN_ENV" {
		t.Fatalf("RPCAuthTokenEnv = %q", cfg.RPCAuthTokenEnv)
	}
	if !cfg.RPCTrustProxyHeaders {
		t.Fatal("RPCTrustProxyHeaders not parsed")
	}
	if len(cfg.RPCTrustedProxies) != 1 || cfg.RPCTrustedProxies[0] != "10.0.0.1" {
		t.Fatalf("RPCTrustedProxies = %v", cfg.RPCTrustedProxies)
	}
	if cfg.RPCMutationsPerMinute != 120 {
		t.Fatalf("RPCMutationsPerMinute = %d", cfg.RPCMutationsPerMinute)
	}
	if cfg.LogMaxSizeMB != 64 {
		t.Fatalf("LogMaxSizeMB = %d", cfg.LogMaxSizeMB)
	}
	if _, err := os.Stat(keystorePath); err != nil {
		t.Fatalf("keystore not generated for existing config: %v", err)
	}
}

func TestDriverRejectsBadTags(t *testing.T) {
	for _, tag := range []string{"ABC", "ABCDE", "AB\tD"} {
		cfg := &Config{DriverTag: tag}
		if _, err := cfg.Driver(); err == nil {
			t.Fatalf("tag %q accepted", tag)
		}
	}
}

func TestResolveAuthTokenPrecedence(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	if err := os.WriteFile(tokenFile, []byte("  file-token\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	t.Setenv("SB_TEST_TOKEN_ENV", "env-token")

	cfg := &Config{
		RPCAuthToken:     "inline-token",
		RPCAuthTokenFile: tokenFile,
		RPCAuthTokenEnv:  "SB_TEST_TOKEN_ENV",
	}
	token, err := cfg.ResolveAuthToken()
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if token != "inline-token" {
		t.Fatalf("token = %q, want inline value", token)
	}

	cfg.RPCAuthToken = ""
	token, err = cfg.ResolveAuthToken()
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if token != "file-token" {
		t.Fatalf("token = %q, want file value", token)
	}

	cfg.RPCAuthTokenFile = ""
	token, err = cfg.ResolveAuthToken()
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if token != "env-token" {
		t.Fatalf("token = %q, want env value", token)
	}
}

func TestValidateRejectsNegativeRotation(t *testing.T) {
	cfg := &Config{RPCAddress: ":8080", DataDir: "./d", DriverTag: "SBDG", LogMaxBackups: -1}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "rotation") {
		t.Fatalf("expected rotation validation error, got %v", err)
	}
}
