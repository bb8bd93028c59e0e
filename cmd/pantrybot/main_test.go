package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}
	if !strings.Contains(out.String(), "PantryBot") {
		t.Errorf("version output missing name: %q", out.String())
	}
	if !strings.Contains(out.String(), "go_version") {
		t.Errorf("version output missing build info: %q", out.String())
	}
}

func TestRunUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Errorf("run %v failed: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage:") {
			t.Errorf("run %v: no usage text", args)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("expected unknown flag error, got %v", err)
	}
}

func TestServeMissingConfig(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", "/nonexistent/config.yaml", "serve"})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected config not found error, got %v", err)
	}
}

func TestServeRequiresAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "listen:\n  port: 0\nanthropic:\n  api_key: \"\"\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "")

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "serve"})
	if err == nil || !strings.Contains(err.Error(), "api_key is required") {
		t.Errorf("expected missing key error, got %v", err)
	}
}
