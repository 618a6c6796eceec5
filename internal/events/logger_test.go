package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_EmitAndFlush(t *testing.T) {
	sink := &MemorySink{}
	l := New([]Sink{sink})
	l.Emit("job1", "AgentStarted", map[string]interface{}{"item_id": "1"})
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var buf bytes.Buffer
	for _, chunk := range sink.Lines() {
		buf.Write(chunk)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(lines))
	}
	var rec Record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.CorrelationID != "job1" || rec.Event != "AgentStarted" {
		t.Errorf("record = %+v", rec)
	}
}

func TestLogger_EmitMasksSensitiveMetadata(t *testing.T) {
	sink := &MemorySink{}
	l := New([]Sink{sink})
	l.Emit("job1", "AgentFailed", map[string]interface{}{
		"item_id": "1",
		"error":   "auth failed: Bearer abcXYZ123.def456-_789 rejected",
		"api_key": "sk-should-not-appear",
	})
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var buf bytes.Buffer
	for _, chunk := range sink.Lines() {
		buf.Write(chunk)
	}
	raw := buf.String()
	if strings.Contains(raw, "sk-should-not-appear") {
		t.Errorf("raw secret value leaked into event log: %s", raw)
	}

	var rec Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Metadata["api_key"] != "***" {
		t.Errorf("metadata[api_key] = %v, want masked placeholder", rec.Metadata["api_key"])
	}
	if rec.Metadata["item_id"] != "1" {
		t.Errorf("metadata[item_id] = %v, want passthrough", rec.Metadata["item_id"])
	}
}

func TestLogger_AutoFlushAtThreshold(t *testing.T) {
	sink := &MemorySink{}
	l := New([]Sink{sink}, WithFlushThreshold(2))
	l.Emit("job1", "A", nil)
	l.Emit("job1", "B", nil)
	// threshold of 2 should have triggered an automatic flush already.
	if len(sink.Lines()) == 0 {
		t.Error("expected an automatic flush at threshold")
	}
}

func TestLogger_ShutdownFlushesRemaining(t *testing.T) {
	sink := &MemorySink{}
	l := New([]Sink{sink}, WithFlushThreshold(100))
	l.Emit("job1", "A", nil)
	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(sink.Lines()) == 0 {
		t.Error("expected Shutdown to flush buffered records")
	}
}
