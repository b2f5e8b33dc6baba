package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("factoringd", "test", WithWriter(&buf), WithLevel("debug"))
	logger.Debug("hello", slog.String("operation", "factoring_fund"))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]string{
		"service":   "factoringd",
		"env":       "test",
		"severity":  "DEBUG",
		"message":   "hello",
		"operation": "factoring_fund",
	} {
		if got, _ := entry[key].(string); got != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keeper", "", WithWriter(&buf), WithLevel("warn"))
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("jwtSecret", "s3cret"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected secret to be redacted, got %s", attr.Value.String())
	}
	if attr := MaskField("operation", "wire"); attr.Value.String() != "wire" {
		t.Fatalf("allowlisted key must pass through, got %s", attr.Value.String())
	}
	if MaskValue("  ") != "  " {
		t.Fatalf("blank values must not be masked")
	}
}

func TestMaskURL(t *testing.T) {
	cases := map[string]string{
		"redis://:hunter2@cache:6379/0":             "redis://:xxxxx@cache:6379/0",
		"postgres://app:pw@db:5432/factoring":       "postgres://app:xxxxx@db:5432/factoring",
		"redis://cache:6379":                        "redis://cache:6379",
		"host=db user=app password=pw dbname=loans": RedactedValue,
		"file:indexer.db":                           "file:indexer.db",
		"":                                          "",
	}
	for in, want := range cases {
		if got := MaskURL(in); got != want {
			t.Fatalf("MaskURL(%q) = %q, want %q", in, got, want)
		}
	}
}
