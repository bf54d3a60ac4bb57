package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/seqline/internal/config"
	"github.com/vango-dev/seqline/internal/errors"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"4567", 4567, false},
		{"0", 0, false},
		{"65535", 65535, false},
		{"65536", 0, true},
		{"-1", 0, true},
		{"http", 0, true},
		{"45x", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parsePort(tt.arg)
			if tt.wantErr {
				var se *errors.SeqlineError
				if !stderrors.As(err, &se) || se.Code != "E100" {
					t.Fatalf("parsePort(%q) error = %v, want E100", tt.arg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePort(%q) error = %v", tt.arg, err)
			}
			if got != tt.want {
				t.Errorf("parsePort(%q) = %d, want %d", tt.arg, got, tt.want)
			}
		})
	}
}

func TestRootRejectsExtraArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"4567", "4568"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for two positional arguments")
	}
}

func TestRootRejectsBadPort(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"not-a-port"})

	err := cmd.Execute()
	var se *errors.SeqlineError
	if !stderrors.As(err, &se) || se.Code != "E100" {
		t.Fatalf("Execute() error = %v, want E100", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigLayering(t *testing.T) {
	path := writeConfig(t, "listen: \"127.0.0.1:7000\"\ntransform: identity\nbuffer_size: 64\n")

	cmd, opts := buildRootCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "--buffer-size", "256"}); err != nil {
		t.Fatal(err)
	}
	opts.port = 9001
	opts.portSet = true

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Listen != "127.0.0.1:9001" {
		t.Errorf("Listen = %q, want 127.0.0.1:9001", cfg.Listen)
	}
	if cfg.Transform != "identity" {
		t.Errorf("Transform = %q, want identity from file", cfg.Transform)
	}
	if cfg.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256 from flag", cfg.BufferSize)
	}
}

func TestLoadConfigBadFlag(t *testing.T) {
	cmd, opts := buildRootCmd()
	if err := cmd.ParseFlags([]string{"--transform", "shout"}); err != nil {
		t.Fatal(err)
	}

	_, err := opts.loadConfig(cmd)
	var se *errors.SeqlineError
	if !stderrors.As(err, &se) || se.Code != "E101" {
		t.Fatalf("loadConfig() error = %v, want E101", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd, opts := buildRootCmd()
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if err := cmd.ParseFlags([]string{"--config", missing}); err != nil {
		t.Fatal(err)
	}

	_, err := opts.loadConfig(cmd)
	var se *errors.SeqlineError
	if !stderrors.As(err, &se) || se.Code != "E111" {
		t.Fatalf("loadConfig() error = %v, want E111", err)
	}
}

func TestJSONErrorsFollowsLogFormat(t *testing.T) {
	t.Run("flag before config loads", func(t *testing.T) {
		cmd, opts := buildRootCmd()
		if err := cmd.ParseFlags([]string{"--log-format", "JSON"}); err != nil {
			t.Fatal(err)
		}
		if !opts.jsonErrors() {
			t.Error("jsonErrors() = false with --log-format JSON")
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, "log:\n  format: json\n")
		cmd, opts := buildRootCmd()
		if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
			t.Fatal(err)
		}
		if _, err := opts.loadConfig(cmd); err != nil {
			t.Fatal(err)
		}
		if !opts.jsonErrors() {
			t.Error("jsonErrors() = false with log.format json in the file")
		}
	})

	t.Run("flag overrides file", func(t *testing.T) {
		path := writeConfig(t, "log:\n  format: json\n")
		cmd, opts := buildRootCmd()
		if err := cmd.ParseFlags([]string{"--config", path, "--log-format", "text"}); err != nil {
			t.Fatal(err)
		}
		if _, err := opts.loadConfig(cmd); err != nil {
			t.Fatal(err)
		}
		if opts.jsonErrors() {
			t.Error("jsonErrors() = true with --log-format text")
		}
	})
}

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version output = %q, want %q", out.String(), version)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init error = %v", err)
	}

	cfg, err := config.Load(filepath.Join(dir, config.ConfigFileName))
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Listen != config.DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, config.DefaultListen)
	}

	again := newRootCmd()
	again.SetArgs([]string{"config", "init", dir})
	if err := again.Execute(); err == nil {
		t.Error("second init without --force should fail")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("epoll listener is linux-only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--log-level", "error", "0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
