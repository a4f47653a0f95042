// Package app wires the relay together: history sink, registry, broadcast
// engine and TCP server.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/cyberinferno/chatrelay/broadcast"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/history"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

const serviceName = "chatrelay"

// App is one relay instance.
type App struct {
	cfg      config.Config
	log      logger.Logger
	sink     history.Sink
	registry *registry.Registry
	engine   *broadcast.Engine
	server   *tcpserver.TCPServer
}

// NewLogger builds the logger described by cfg: console output, or JSON to
// stdout and log_file when one is set.
func NewLogger(cfg config.Config) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return logger.NewConsole(serviceName, level), nil
	}

	return logger.NewFile(serviceName, cfg.LogFile, level)
}

// OpenHistory opens the sink selected by h.Backend.
//
// Returns:
//   - The sink, or an error if the backend is unknown or cannot be reached
func OpenHistory(ctx context.Context, h config.History) (history.Sink, error) {
	switch h.Backend {
	case config.BackendFile:
		return history.NewFileSink(h.Path)
	case config.BackendSQLite:
		return history.NewSQLiteSink(h.SQLitePath)
	case config.BackendRedis:
		dialCtx, cancel := context.WithTimeout(ctx, h.Timeout)
		defer cancel()
		return history.DialRedis(dialCtx, h.RedisAddr, h.RedisKey)
	case config.BackendNone:
		return history.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", h.Backend)
	}
}

// New constructs the relay from cfg. The history sink is opened here; Run
// closes it.
func New(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.Nop()
	}

	sink, err := OpenHistory(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	log.Info("history initialized", logger.Field{Key: "backend", Value: cfg.History.Backend})

	reg := registry.New(cfg.MaxClients, log)
	engine := broadcast.New(reg, sink, log,
		broadcast.WithFormatter(broadcast.TextFormatter{EchoToSender: cfg.Echo}),
		broadcast.WithHistoryTimeout(cfg.History.Timeout),
	)

	opts := cfg.SessionOptions()
	server := tcpserver.New("chat", cfg.Addr, func(conn net.Conn) tcpserver.Session {
		return session.New(conn, engine, log, opts)
	}, log)

	return &App{
		cfg:      cfg,
		log:      log,
		sink:     sink,
		registry: reg,
		engine:   engine,
		server:   server,
	}, nil
}

// Run serves clients until ctx is cancelled or the listener cannot be
// opened. On return every session has been torn down (or the shutdown
// timeout has passed) and the history sink is closed.
func (a *App) Run(ctx context.Context) error {
	err := a.server.Serve(ctx, a.cfg.ShutdownTimeout)
	a.cleanup()
	return err
}

// Addr returns the listening address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	return a.server.ListenAddr()
}

// Registry returns the live client registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// ApplyConfig applies the settings that can change while running: the
// client limit and the log level. Other changes are logged and take effect
// on restart.
func (a *App) ApplyConfig(cfg config.Config) {
	if cfg.MaxClients != a.registry.Capacity() {
		a.registry.SetCapacity(cfg.MaxClients)
	}

	if cfg.LogLevel != a.cfg.LogLevel {
		a.log.SetLevel(logger.ParseLevel(cfg.LogLevel))
		a.log.Info("log level changed", logger.Field{Key: "level", Value: cfg.LogLevel})
	}

	if cfg.Addr != a.cfg.Addr || cfg.History != a.cfg.History || cfg.SessionOptions() != a.cfg.SessionOptions() || cfg.Echo != a.cfg.Echo {
		a.log.Warn("some config changes need a restart to take effect")
	}

	a.cfg.MaxClients = cfg.MaxClients
	a.cfg.LogLevel = cfg.LogLevel
}

func (a *App) cleanup() {
	if err := a.sink.Close(); err != nil {
		a.log.Warn("failed to close history", logger.Err(err))
		return
	}

	a.log.Info("history closed")
}
