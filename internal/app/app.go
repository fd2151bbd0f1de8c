package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/afkbot/internal/auth"
	"github.com/vovakirdan/afkbot/internal/backoff"
	"github.com/vovakirdan/afkbot/internal/chatproto"
	"github.com/vovakirdan/afkbot/internal/config"
	"github.com/vovakirdan/afkbot/internal/core"
	"github.com/vovakirdan/afkbot/internal/idle"
	"github.com/vovakirdan/afkbot/internal/store"
	"github.com/vovakirdan/afkbot/internal/store/jsonfile"
	"github.com/vovakirdan/afkbot/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/afkbot/internal/transport/http"
	"github.com/vovakirdan/afkbot/internal/transport/ws"
)

// App wires together the session controller, its transport and the health endpoint.
type App struct {
	controller      *core.Controller
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.AuthStore
	lock            *flock.Flock
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	detector, err := chatproto.NewWithExtra(cfg.Auth.Patterns)
	if err != nil {
		return nil, fmt.Errorf("chat patterns: %w", err)
	}

	lock, err := store.AcquireLock(cfg.State.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.State.Path).Msg("failed to lock state, continuing without instance lock")
	}

	identity := core.NewIdentity(cfg.Identity.Name, cfg.Identity.Alternates)
	st := openStore(cfg, identity.Primary(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	registered := core.LoadRegistered(ctx, st, logger)
	cancel()
	logger.Info().
		Str("backend", cfg.State.Backend).
		Str("path", cfg.State.Path).
		Bool("registered", registered).
		Msg("auth state loaded")

	if cfg.Auth.Password == "" && (strings.Contains(cfg.Auth.RegisterCommand, "{pass}") || strings.Contains(cfg.Auth.LoginCommand, "{pass}")) {
		logger.Warn().Msg("auth.password is empty; register and login commands will carry an empty password")
	}

	machine := core.NewMachine(core.MachineConfig{
		Auth: core.AuthConfig{
			Password:                   cfg.Auth.Password,
			RegisterCommand:            cfg.Auth.RegisterCommand,
			LoginCommand:               cfg.Auth.LoginCommand,
			RegisterToLoginDelay:       cfg.Auth.RegisterToLoginDelay,
			LoginDelay:                 cfg.Auth.LoginDelay,
			AlreadyRegisteredIsSuccess: cfg.Auth.AlreadyRegisteredIsSuccess,
			ConfirmTimeout:             cfg.Auth.ConfirmTimeout,
		},
		FallbackMin: cfg.Reconnect.FallbackMin,
		FallbackMax: cfg.Reconnect.FallbackMax,
		Registered:  registered,
	},
		identity,
		detector,
		backoff.New(cfg.Reconnect.Base, cfg.Reconnect.Max, cfg.Reconnect.Jitter),
	)

	transport := ws.New(ws.Options{
		Path: cfg.Gateway.Path,
		JWT: &auth.JWTConfig{
			Secret: []byte(cfg.Gateway.Secret),
			TTL:    time.Minute,
		},
		ChatRate:     cfg.Gateway.ChatRate,
		ChatBurst:    cfg.Gateway.ChatBurst,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		QueueSize:    cfg.Gateway.QueueSize,
		DialTimeout:  cfg.Gateway.DialTimeout,
		PingInterval: cfg.Gateway.PingInterval,
		PingTimeout:  cfg.Gateway.PingTimeout,
	}, logger)

	controller := core.NewController(
		machine,
		transport,
		st,
		idle.New(cfg.Movement.Interval, cfg.Movement.MaxRandom, nil),
		core.ControllerOptions{
			Host:     cfg.Server.Host,
			Port:     cfg.Server.Port,
			AuthMode: cfg.Server.Auth,
		},
		logger,
	)

	a := &App{
		controller:      controller,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		lock:            lock,
		log:             logger,
	}
	if cfg.Health.Addr != "" {
		a.server = transporthttp.NewServer(cfg.Health.Addr, controller, time.Now(), logger)
	}
	return a, nil
}

// openStore opens the configured backend, falling back to an in-memory store.
// SQLite rows are keyed by the primary identity.
func openStore(cfg *config.Config, profile string, logger *zerolog.Logger) store.AuthStore {
	switch cfg.State.Backend {
	case config.BackendSQLite:
		st, err := sqlite.New(cfg.State.Path, profile)
		if err == nil {
			logger.Debug().Str("path", cfg.State.Path).Str("profile", profile).Msg("sqlite state opened")
			return st
		}
		logger.Error().Err(err).Str("path", cfg.State.Path).Msg("failed to open sqlite state, using in-memory state")
		return store.NewMemory(store.AuthRecord{})
	default:
		st := jsonfile.New(cfg.State.Path)
		logger.Debug().Str("path", st.Path()).Msg("json state file")
		return st
	}
}

// Status exposes the controller status.
func (a *App) Status() core.Status {
	return a.controller.Status()
}

// Run starts the bot and the health server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	botDone := make(chan error, 1)
	go func() {
		botDone <- a.controller.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.log.Info().Str("addr", a.server.Addr).Msg("health endpoint listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
	}

	var runErr error
	select {
	case err := <-serverErr:
		// informational only, the bot keeps running
		if err != nil {
			a.log.Error().Err(err).Msg("health endpoint failed")
		}
		a.server = nil
		runErr = <-botDone
	case runErr = <-botDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if a.server != nil {
		a.log.Info().Msg("shutting down health endpoint")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("health endpoint shutdown")
		}
		<-serverErr
	}
	return runErr
}

// cleanup closes the store and releases the instance lock.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.log.Warn().Err(err).Msg("failed to release state lock")
		}
	}
}
