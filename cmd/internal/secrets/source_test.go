package secrets

import (
	"strings"
	"testing"
)

func TestSourceUsesEnvValue(t *testing.T) {
	t.Setenv("SB_TEST_OPERATOR_PASS", "hunter2")
	source := NewSource("SB_TEST_OPERATOR_PASS")
	pass, err := source.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pass != "hunter2" {
		t.Fatalf("pass = %q", pass)
	}
}

func TestSourceRejectsEmptyEnvValue(t *testing.T) {
	t.Setenv("SB_TEST_OPERATOR_PASS", "   ")
	source := NewSource("SB_TEST_OPERATOR_PASS")
	if _, err := source.Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}

func TestSourceCachesFirstResolution(t *testing.T) {
	t.Setenv("SB_TEST_OPERATOR_PASS", "first")
	source := NewSource("SB_TEST_OPERATOR_PASS")
	if _, err := source.Get(); err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Setenv("SB_TEST_OPERATOR_PASS", "second")
	pass, err := source.Get()
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if pass != "first" {
		t.Fatalf("pass = %q, want cached value", pass)
	}
}

func TestSourceFailsWithoutTerminal(t *testing.T) {
	// Test binaries run without a controlling terminal on stdin, so the
	// interactive fallback must fail with a pointer at the env var.
	source := NewSource("SB_TEST_OPERATOR_PASS_UNSET")
	_, err := source.Get()
	if err == nil {
		t.Fatal("expected error without terminal")
	}
	if !strings.Contains(err.Error(), "SB_TEST_OPERATOR_PASS_UNSET") {
		t.Fatalf("error %q does not mention the env var", err)
	}
}
