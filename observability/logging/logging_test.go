package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "mortgaged", "test")
	logger.Info("tx applied", MaskField("signature", "0xdeadbeef"), MaskField("tx", "mortgage_open"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %s in %v", key, line)
		}
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["signature"] != RedactedValue {
		t.Fatalf("signature not redacted: %v", line["signature"])
	}
	if line["tx"] != "mortgage_open" {
		t.Fatalf("tx should be logged in clear: %v", line["tx"])
	}
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	if attr := MaskField("token", ""); attr.Value.String() != "" {
		t.Fatalf("expected empty value, got %q", attr.Value.String())
	}
}
