package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"--version"}, &out)

	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out.String(), "sibyl version") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"--help"}, &out)

	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Fatalf("help output = %q", out.String())
	}
}

func TestRun_InvalidFlag(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if code := run([]string{"--unknown-flag"}, &out); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"frobnicate"}, &out)

	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRun_Migrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sibyl.db")
	t.Setenv("SIBYL_DB_PATH", dbPath)

	var out bytes.Buffer
	code := run([]string{"migrate"}, &out)

	if code != 0 {
		t.Fatalf("exit code = %d, output %q", code, out.String())
	}
	if !strings.Contains(out.String(), "migration version") {
		t.Fatalf("output = %q", out.String())
	}
}
