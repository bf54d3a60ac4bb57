package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/seqline/internal/config"
	"github.com/vango-dev/seqline/internal/errors"
	"github.com/vango-dev/seqline/pkg/gateway"
	"github.com/vango-dev/seqline/pkg/middleware"
	"github.com/vango-dev/seqline/pkg/server"
)

type serveOptions struct {
	configPath  string
	bufferSize  int
	transform   string
	retryPolicy string
	adminAddr   string
	noWebSocket bool
	backlog     int
	logLevel    string
	logFormat   string

	port    int
	portSet bool

	// resolvedLogFormat is the log format after file and flag layering.
	resolvedLogFormat string
}

func (o *serveOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Configuration file (default ./seqline.yaml if present)")
	f.IntVar(&o.bufferSize, "buffer-size", 0, "Bytes read per readiness event (default 120)")
	f.StringVar(&o.transform, "transform", "", "Word transform: reverse or identity")
	f.StringVar(&o.retryPolicy, "retry-policy", "", "On transform failure: drop or requeue")
	f.StringVar(&o.adminAddr, "admin-addr", "", "Admin HTTP address for health, metrics and /ws (off when empty)")
	f.BoolVar(&o.noWebSocket, "no-websocket", false, "Disable the /ws bridge on the admin endpoint")
	f.IntVar(&o.backlog, "backlog-threshold", 0, "Warn when this many requests are queued (0 disables)")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
}

// jsonErrors reports whether a startup error should be printed as JSON,
// matching the log format. Errors raised before the configuration loads
// only see the flag.
func (o *serveOptions) jsonErrors() bool {
	format := o.resolvedLogFormat
	if format == "" {
		format = o.logFormat
	}
	return strings.EqualFold(strings.TrimSpace(format), "json")
}

// parsePort validates the positional port argument.
func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errors.New("E100").
			WithDetail("The port argument \"" + arg + "\" is not an integer.").
			Wrap(err)
	}
	if port < 0 || port > 65535 {
		return 0, errors.New("E100").
			WithDetail("The port " + arg + " is outside 0-65535.")
	}
	return port, nil
}

// loadConfig resolves the file configuration and layers flags and the
// positional port on top.
func (o *serveOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadFromWorkingDir()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("buffer-size") {
		cfg.BufferSize = o.bufferSize
	}
	if flags.Changed("transform") {
		cfg.Transform = o.transform
	}
	if flags.Changed("retry-policy") {
		cfg.RetryPolicy = o.retryPolicy
	}
	if flags.Changed("admin-addr") {
		cfg.Admin.Addr = o.adminAddr
	}
	if flags.Changed("no-websocket") {
		cfg.Admin.WebSocket = !o.noWebSocket
	}
	if flags.Changed("backlog-threshold") {
		cfg.Backlog.Threshold = o.backlog
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if o.portSet {
		cfg.SetPort(o.port)
	}
	o.resolvedLogFormat = cfg.Log.Format

	if err := cfg.Validate(); err != nil {
		if flags.NFlag() > 0 {
			var se *errors.SeqlineError
			if stderrors.As(err, &se) && se.Location == nil {
				return nil, errors.New("E101").WithDetail(se.Detail)
			}
		}
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return errors.New("E101").Wrap(err)
	}

	var srv *server.Server
	serverConfig := server.DefaultServerConfig()
	if err := cfg.ApplyTo(serverConfig); err != nil {
		return err
	}
	serverConfig.Logger = logger
	serverConfig.Middleware = []server.Middleware{
		middleware.Prometheus(middleware.WithQueueDepth(func() int {
			if srv == nil {
				return 0
			}
			return srv.QueueLen()
		})),
		middleware.OpenTelemetry(),
	}
	serverConfig.OnConnOpen = middleware.RecordConnOpen
	serverConfig.OnConnClose = middleware.RecordConnClose

	srv = server.New(serverConfig)
	if err := srv.Listen(); err != nil {
		return listenError(cfg.Listen, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Admin.Addr != "" {
		gw := gateway.New(srv, gateway.Config{
			Addr:            cfg.Admin.Addr,
			EnableWebSocket: cfg.Admin.WebSocket,
			TrustedProxies:  cfg.Admin.TrustedProxies,
			OnConnOpen:      middleware.RecordConnOpen,
			OnConnClose:     middleware.RecordConnClose,
			Logger:          logger,
		})
		g.Go(func() error {
			if err := gw.ListenAndServe(gctx); err != nil {
				return errors.New("E121").
					WithDetail("The admin endpoint could not listen on " + cfg.Admin.Addr + ".").
					Wrap(err)
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, server.ErrServerClosed) {
		logger.Info("shutdown complete")
		return nil
	}
	var se *errors.SeqlineError
	if stderrors.As(err, &se) {
		return err
	}
	return errors.New("E131").Wrap(err)
}

// listenError maps a Listen failure to a coded startup error.
func listenError(addr string, err error) error {
	switch {
	case stderrors.Is(err, server.ErrUnsupportedPlatform):
		return errors.New("E130").Wrap(err)
	case stderrors.Is(err, server.ErrInvalidConfig):
		return errors.New("E110").WithDetail(err.Error())
	default:
		return errors.New("E120").
			WithDetail("Could not listen on " + addr + ".").
			Wrap(err)
	}
}
