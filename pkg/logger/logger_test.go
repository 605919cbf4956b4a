package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger_ContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithSessionID(context.Background(), "sess-1")
	ctx = logg.WithField(ctx, "quantity", 5)
	logg.Info(ctx, "participant joined")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["session_id"] != "sess-1" {
		t.Fatalf("expected session_id field, got %v", entry["session_id"])
	}
	if entry["quantity"] != float64(5) {
		t.Fatalf("expected quantity field, got %v", entry["quantity"])
	}
	if entry["service"] != "test" {
		t.Fatalf("expected service field, got %v", entry["service"])
	}
}

func TestLogger_ErrorIncludesErrAndStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	logg.Error(context.Background(), "escrow dispatch failed", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected error message in output: %s", out)
	}
	if !strings.Contains(out, "stack") {
		t.Fatalf("expected stack field in output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("") != ParseLevel("info") {
		t.Fatal("empty level should default to info")
	}
	if ParseLevel("nonsense") != ParseLevel("info") {
		t.Fatal("invalid level should default to info")
	}
	if ParseLevel("DEBUG").String() != "debug" {
		t.Fatal("expected case-insensitive parse")
	}
}
