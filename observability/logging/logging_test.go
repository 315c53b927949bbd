package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(newHandler(buf))

	logger.Warn("disk almost full", slog.String("component", "storage"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", entry)
	}
	if entry["severity"] != "WARN" {
		t.Fatalf("severity = %v, want WARN", entry["severity"])
	}
	if entry["message"] != "disk almost full" {
		t.Fatalf("message = %v", entry["message"])
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("raw slog time key leaked through: %v", entry)
	}
	if _, ok := entry["level"]; ok {
		t.Fatalf("raw slog level key leaked through: %v", entry)
	}
}

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("token", "super-secret")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("token value not redacted: %s", attr.Value.String())
	}

	attr = MaskField("component", "rpc")
	if attr.Value.String() != "rpc" {
		t.Fatalf("allowlisted key was redacted: %s", attr.Value.String())
	}

	attr = MaskField("token", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value should pass through unchanged")
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("secret") != RedactedValue {
		t.Fatalf("non-empty value not masked")
	}
	if MaskValue("   ") != "   " {
		t.Fatalf("whitespace-only value should pass through")
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("allowlist not sorted at %d: %v", i, keys)
		}
	}
	if !IsAllowlisted("Severity") {
		t.Fatalf("allowlist lookup should be case-insensitive")
	}
	if IsAllowlisted("authorization") {
		t.Fatalf("authorization must never be allowlisted")
	}
}
