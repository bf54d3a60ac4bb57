package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/seqline/pkg/protocol"
)

const (
	// DefaultPort is the TCP port the server listens on when none is given.
	DefaultPort = 4567

	// DefaultReadBufferSize is the size of the reactor's read buffer.
	// Each readiness event reads at most this many bytes.
	DefaultReadBufferSize = 120

	// DefaultMaxEvents is the number of readiness events fetched per wait.
	DefaultMaxEvents = 128

	// DefaultBacklogInterval is how often the backlog watch samples.
	DefaultBacklogInterval = 10 * time.Second
)

// RetryPolicy decides what the writer does with a request whose transform
// failed with a retryable error.
type RetryPolicy string

const (
	// RetryDrop logs and drops the request.
	RetryDrop RetryPolicy = "drop"

	// RetryRequeue appends the request to the tail of the dispatch queue.
	RetryRequeue RetryPolicy = "requeue"
)

// ParseRetryPolicy parses a policy name.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch RetryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RetryDrop, "":
		return RetryDrop, nil
	case RetryRequeue, "retry":
		return RetryRequeue, nil
	default:
		return "", fmt.Errorf("%w: unknown retry policy %q", ErrInvalidConfig, s)
	}
}

// ServerConfig holds configuration for the TCP server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":4567" or "127.0.0.1:0").
	// Default: ":4567".
	Address string

	// ReadBufferSize is the number of bytes read per readiness event.
	// Chunk boundaries follow this size, so it is a tunable and not part of
	// the protocol.
	// Default: 120.
	ReadBufferSize int

	// MaxEvents is the number of readiness events handled per wake.
	// Default: 128.
	MaxEvents int

	// Transform selects the built-in word transform.
	// Default: protocol.TransformReverse.
	Transform protocol.TransformMode

	// Transformer overrides Transform with a custom implementation.
	Transformer protocol.Transformer

	// IgnoreResetToken disables parsing of a second token as a counter reset.
	IgnoreResetToken bool

	// RetryPolicy controls what happens to a request whose transform failed
	// with a retryable error.
	// Default: RetryDrop.
	RetryPolicy RetryPolicy

	// MaxRequeue caps how often one request may be requeued. Zero means no
	// cap; the loop still ends once the connection is closed.
	MaxRequeue int

	// BacklogThreshold is the queue depth at which the backlog watch starts
	// warning. Zero disables the watch.
	BacklogThreshold int

	// BacklogInterval is how often the backlog watch samples the queue.
	// Default: 10s.
	BacklogInterval time.Duration

	// Middleware wraps the writer's response handler. The first entry is
	// the outermost.
	Middleware []Middleware

	// OnConnOpen is called on the reactor goroutine after a connection is registered.
	OnConnOpen func(ConnInfo)

	// OnConnClose is called on the reactor goroutine after a connection is removed.
	OnConnClose func(ConnInfo)

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":" + strconv.Itoa(DefaultPort),
		ReadBufferSize:  DefaultReadBufferSize,
		MaxEvents:       DefaultMaxEvents,
		Transform:       protocol.TransformReverse,
		RetryPolicy:     RetryDrop,
		BacklogInterval: DefaultBacklogInterval,
	}
}

// Clone returns a shallow copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Middleware = append([]Middleware(nil), c.Middleware...)
	return &clone
}

// WithAddress returns a copy with the given listen address.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithPort returns a copy listening on port on all interfaces.
func (c *ServerConfig) WithPort(port int) *ServerConfig {
	return c.WithAddress(":" + strconv.Itoa(port))
}

// WithTransform returns a copy using the given transform.
func (c *ServerConfig) WithTransform(mode protocol.TransformMode) *ServerConfig {
	clone := c.Clone()
	clone.Transform = mode
	return clone
}

// WithRetryPolicy returns a copy using the given retry policy.
func (c *ServerConfig) WithRetryPolicy(p RetryPolicy) *ServerConfig {
	clone := c.Clone()
	clone.RetryPolicy = p
	return clone
}

// WithMiddleware returns a copy with mw appended to the middleware chain.
func (c *ServerConfig) WithMiddleware(mw ...Middleware) *ServerConfig {
	clone := c.Clone()
	clone.Middleware = append(clone.Middleware, mw...)
	return clone
}

// applyDefaults fills in unset fields.
func (c *ServerConfig) applyDefaults() {
	defaults := DefaultServerConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = defaults.MaxEvents
	}
	if c.Transform == "" {
		c.Transform = defaults.Transform
	}
	if mode, err := protocol.ParseTransformMode(string(c.Transform)); err == nil {
		c.Transform = mode
	}
	if c.RetryPolicy == "" {
		c.RetryPolicy = defaults.RetryPolicy
	}
	// Aliases such as "retry" are stored in canonical form so the writer
	// can compare against the constants.
	if p, err := ParseRetryPolicy(string(c.RetryPolicy)); err == nil {
		c.RetryPolicy = p
	}
	if c.BacklogInterval == 0 {
		c.BacklogInterval = defaults.BacklogInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ValidateConfig checks the configuration for values the server cannot run with.
func (c *ServerConfig) ValidateConfig() error {
	if _, port, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Address, err)
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%w: address %q: invalid port", ErrInvalidConfig, c.Address)
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: read buffer size %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	if c.MaxEvents < 0 {
		return fmt.Errorf("%w: max events %d", ErrInvalidConfig, c.MaxEvents)
	}
	if c.MaxRequeue < 0 {
		return fmt.Errorf("%w: max requeue %d", ErrInvalidConfig, c.MaxRequeue)
	}
	if c.BacklogThreshold < 0 || c.BacklogInterval < 0 {
		return fmt.Errorf("%w: backlog watch %d every %s", ErrInvalidConfig, c.BacklogThreshold, c.BacklogInterval)
	}
	if c.Transformer == nil && c.Transform != "" {
		if _, err := protocol.ParseTransformMode(string(c.Transform)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.RetryPolicy != "" {
		if _, err := ParseRetryPolicy(string(c.RetryPolicy)); err != nil {
			return err
		}
	}
	return nil
}

// GetConfigWarnings returns non-fatal configuration issues worth logging.
func (c *ServerConfig) GetConfigWarnings() []string {
	var warnings []string
	if c.ReadBufferSize > 0 && c.ReadBufferSize < 16 {
		warnings = append(warnings, fmt.Sprintf("read buffer of %d bytes will split most words across reads", c.ReadBufferSize))
	}
	if p, err := ParseRetryPolicy(string(c.RetryPolicy)); err == nil && p == RetryRequeue && c.MaxRequeue == 0 {
		warnings = append(warnings, "requeue policy without MaxRequeue retries until the connection closes")
	}
	return warnings
}

func (c *ServerConfig) transformer() protocol.Transformer {
	if c.Transformer != nil {
		return c.Transformer
	}
	mode, err := protocol.ParseTransformMode(string(c.Transform))
	if err != nil {
		mode = protocol.TransformReverse
	}
	return mode.Transformer()
}
