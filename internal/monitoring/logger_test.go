package monitoring

import (
	"fmt"
	"testing"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() {
		Logf = original
		SetVerbose(false)
	})
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)
	Logf("session %d started", 1)
	if len(*lines) != 1 || (*lines)[0] != "session 1 started" {
		t.Fatalf("lines = %q", *lines)
	}

	SetLogger(nil)
	Logf("dropped") // must not panic
	if len(*lines) != 1 {
		t.Errorf("no-op logger forwarded a message: %q", *lines)
	}
}

func TestDebugf(t *testing.T) {
	lines := captureLogs(t)

	Debugf("frame %d", 1)
	if len(*lines) != 0 {
		t.Fatalf("Debugf logged while quiet: %q", *lines)
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("frame %d", 2)
	if len(*lines) != 1 || (*lines)[0] != "frame 2" {
		t.Errorf("lines = %q", *lines)
	}
}

func TestComponent(t *testing.T) {
	lines := captureLogs(t)
	logf := Component("db")
	logf("migrated to version %d", 3)
	if len(*lines) != 1 || (*lines)[0] != "db: migrated to version 3" {
		t.Errorf("lines = %q", *lines)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}
