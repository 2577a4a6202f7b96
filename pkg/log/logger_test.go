// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(prefix)
	l.SetWriter(&buf)
	l.SetColorize(false)
	return l, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger("test")
	logger.SetLevel(DEBUG)

	logger.Info("hello %s", "world")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("expected prefix 'test:', got: %s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("expected message 'hello world', got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger("test")

	logger.SetLevel(INFO)
	logger.Debug("debug message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN ]") {
		t.Errorf("expected WARN to pass, got: %s", buf.String())
	}

	buf.Reset()
	logger.SetLevel(ERROR)
	logger.Warn("filtered")
	if buf.Len() != 0 {
		t.Errorf("expected WARN to be filtered at ERROR, got: %s", buf.String())
	}
	if logger.GetLevel() != ERROR {
		t.Errorf("GetLevel() = %v, want ERROR", logger.GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEntryFields(t *testing.T) {
	logger, buf := newTestLogger("bus")

	logger.WithFields(Fields{"addr": 0x24, "len": 64}).WithError(errors.New("nak")).Warnf("read failed")

	out := buf.String()
	for _, want := range []string{"bus: read failed", "addr=36", "len=64", "error=nak"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newTestLogger("imu")
	logger.SetFormat(FormatJSON)

	logger.WithField("channel", "accel").Info("powered")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if m["msg"] != "powered" {
		t.Errorf("msg = %v, want powered", m["msg"])
	}
	if m["component"] != "imu" {
		t.Errorf("component = %v, want imu", m["component"])
	}
	if m["channel"] != "accel" {
		t.Errorf("channel = %v, want accel", m["channel"])
	}
}

func TestWithPrefixSharesOutput(t *testing.T) {
	logger, buf := newTestLogger("root")
	child := logger.WithPrefix("fifo")
	child.Error("corrupt")
	if !strings.Contains(buf.String(), "fifo: corrupt") {
		t.Errorf("child output = %q", buf.String())
	}
}

func TestHexDump(t *testing.T) {
	logger, buf := newTestLogger("")
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	logger.HexDump(INFO, 0x40, data)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "00000040: 00 01 02 03 04 05 06 07  08 09") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "00000050: 10 11 12 13") {
		t.Errorf("line 1 = %q", lines[1])
	}
}
