package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("agent spawned", "agent_id", "a-1")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "agent spawned" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["agent_id"] != "a-1" {
		t.Errorf("unexpected agent_id: %v", record["agent_id"])
	}
}

func TestLogger_SanitizesSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("env dump", "line", "OPENAI_API_KEY=sk-abcdefghijklmnopqrstuvwx1234")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwx1234") {
		t.Error("secret leaked into log output")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected redaction marker")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})

	log.Info("should be filtered")
	log.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("info record leaked past warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn record missing")
	}
}

func TestLogger_CorrelationHelpers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.WithAgent("a-1").WithTask("t-2").Info("working")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["agent_id"] != "a-1" || record["task_id"] != "t-2" {
		t.Errorf("correlation keys missing: %v", record)
	}
}

func TestSanitizer_AddPattern(t *testing.T) {
	s := NewSanitizer()
	if err := s.AddPattern(`internal-[0-9]+`); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	if got := s.Sanitize("id internal-42 done"); strings.Contains(got, "internal-42") {
		t.Errorf("custom pattern not applied: %q", got)
	}

	if err := s.AddPattern(`([`); err == nil {
		t.Error("invalid pattern should error")
	}
}
