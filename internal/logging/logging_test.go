package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return &buf
}

func TestDebugfSilentWhenDisabled(t *testing.T) {
	buf := captureLog(t)
	Debug = false
	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestDebugfPrintsWhenEnabled(t *testing.T) {
	buf := captureLog(t)
	Debug = true
	t.Cleanup(func() { Debug = false })
	Debugf("shown %d", 2)
	if !strings.Contains(buf.String(), "DEBUG: shown 2") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestErrorfPrefix(t *testing.T) {
	buf := captureLog(t)
	Errorf("boom: %s", "x")
	if !strings.HasPrefix(buf.String(), "ERROR: boom: x") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
