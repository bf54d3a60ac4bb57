package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/vango-dev/seqline/pkg/protocol"
)

func TestDefaultServerConfig(t *testing.T) {
	config := DefaultServerConfig()

	if config.Address != ":4567" {
		t.Errorf("Address = %q, want %q", config.Address, ":4567")
	}
	if config.ReadBufferSize != DefaultReadBufferSize {
		t.Errorf("ReadBufferSize = %d, want %d", config.ReadBufferSize, DefaultReadBufferSize)
	}
	if config.MaxEvents <= 0 {
		t.Error("MaxEvents should be positive")
	}
	if config.Transform != protocol.TransformReverse {
		t.Errorf("Transform = %q, want reverse", config.Transform)
	}
	if config.RetryPolicy != RetryDrop {
		t.Errorf("RetryPolicy = %q, want drop", config.RetryPolicy)
	}
	if err := config.ValidateConfig(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestServerConfigBuilders(t *testing.T) {
	base := DefaultServerConfig()
	mw := func(h Handler) Handler { return h }

	config := base.
		WithPort(9000).
		WithTransform(protocol.TransformIdentity).
		WithRetryPolicy(RetryRequeue).
		WithMiddleware(mw)

	if config.Address != ":9000" {
		t.Errorf("Address = %q, want :9000", config.Address)
	}
	if config.Transform != protocol.TransformIdentity {
		t.Errorf("Transform = %q", config.Transform)
	}
	if config.RetryPolicy != RetryRequeue {
		t.Errorf("RetryPolicy = %q", config.RetryPolicy)
	}
	if len(config.Middleware) != 1 {
		t.Errorf("len(Middleware) = %d, want 1", len(config.Middleware))
	}

	// Builders must not mutate the receiver.
	if base.Address != ":4567" || base.RetryPolicy != RetryDrop || len(base.Middleware) != 0 {
		t.Errorf("base config was mutated: %+v", base)
	}
}

func TestServerConfigCloneNil(t *testing.T) {
	var config *ServerConfig
	if config.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"missing port", func(c *ServerConfig) { c.Address = "localhost" }},
		{"port out of range", func(c *ServerConfig) { c.Address = ":70000" }},
		{"non-numeric port", func(c *ServerConfig) { c.Address = ":http-alt" }},
		{"negative buffer", func(c *ServerConfig) { c.ReadBufferSize = -1 }},
		{"negative max events", func(c *ServerConfig) { c.MaxEvents = -1 }},
		{"negative max requeue", func(c *ServerConfig) { c.MaxRequeue = -1 }},
		{"unknown transform", func(c *ServerConfig) { c.Transform = "rot13" }},
		{"unknown retry policy", func(c *ServerConfig) { c.RetryPolicy = "forever" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultServerConfig()
			tt.mutate(config)
			err := config.ValidateConfig()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("ValidateConfig() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateConfigCustomTransformer(t *testing.T) {
	config := DefaultServerConfig()
	config.Transform = "rot13"
	config.Transformer = protocol.TransformFunc(func(word string) (string, error) {
		return strings.ToUpper(word), nil
	})

	if err := config.ValidateConfig(); err != nil {
		t.Errorf("custom transformer should bypass mode validation: %v", err)
	}
}

func TestParseRetryPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RetryPolicy
		wantErr bool
	}{
		{"", RetryDrop, false},
		{"drop", RetryDrop, false},
		{"requeue", RetryRequeue, false},
		{"retry", RetryRequeue, false},
		{"sometimes", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRetryPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRetryPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRetryPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetConfigWarnings(t *testing.T) {
	config := DefaultServerConfig()
	if warnings := config.GetConfigWarnings(); len(warnings) != 0 {
		t.Errorf("default config warnings = %v", warnings)
	}

	config.ReadBufferSize = 4
	config.RetryPolicy = RetryRequeue
	if warnings := config.GetConfigWarnings(); len(warnings) != 2 {
		t.Errorf("len(warnings) = %d, want 2: %v", len(warnings), warnings)
	}
}

func TestGetConfigWarningsPolicyAlias(t *testing.T) {
	config := DefaultServerConfig()
	config.RetryPolicy = " Retry "
	if warnings := config.GetConfigWarnings(); len(warnings) != 1 {
		t.Errorf("len(warnings) = %d, want 1: %v", len(warnings), warnings)
	}
}

func TestApplyDefaultsCanonicalizes(t *testing.T) {
	config := &ServerConfig{Transform: " Echo ", RetryPolicy: "REQUEUE"}
	config.applyDefaults()

	if config.Transform != protocol.TransformIdentity {
		t.Errorf("Transform = %q, want %q", config.Transform, protocol.TransformIdentity)
	}
	if config.RetryPolicy != RetryRequeue {
		t.Errorf("RetryPolicy = %q, want %q", config.RetryPolicy, RetryRequeue)
	}

	// Unknown values are left for ValidateConfig to reject.
	bad := &ServerConfig{RetryPolicy: "sometimes"}
	bad.applyDefaults()
	if bad.RetryPolicy != "sometimes" {
		t.Errorf("RetryPolicy = %q, want it untouched", bad.RetryPolicy)
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &ServerConfig{}
	config.applyDefaults()

	if config.Address != ":4567" {
		t.Errorf("Address = %q", config.Address)
	}
	if config.ReadBufferSize != DefaultReadBufferSize || config.MaxEvents != DefaultMaxEvents {
		t.Errorf("sizes = %d/%d", config.ReadBufferSize, config.MaxEvents)
	}
	if config.Logger == nil {
		t.Error("Logger should default to slog.Default()")
	}
}
