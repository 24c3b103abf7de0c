package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"weatherlive/internal/config"
	"weatherlive/internal/db"
	"weatherlive/internal/httpapi"
	weather "weatherlive/internal/modules/weather"
	"weatherlive/internal/modules/weather/relay"
	"weatherlive/internal/modules/weather/sink"
	"weatherlive/internal/modules/weather/views"
	"weatherlive/internal/websocket"
)

const (
	relayStopTimeout    = 15 * time.Second
	storeCloseTimeout   = 5 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"staticDir", cfg.StaticDir,
		"dbDriver", cfg.Driver,
		"persistence", cfg.PersistenceEnabled(),
		"sourceURL", cfg.SourceURL,
		"sourceStream", cfg.SourceStream,
		"connectTimeout", cfg.ConnectTimeout,
		"syntheticStartDelay", cfg.SyntheticStartDelay,
		"generatorInterval", cfg.GeneratorInterval,
	)

	if err := views.LoadTemplates(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	// Listen first so a taken port fails startup before anything else runs.
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}

	store := sink.New(cfg, logger)
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	connectDone := make(chan struct{})
	go func() {
		defer close(connectDone)
		connectStore(connectCtx, store, logger)
	}()

	hub := websocket.NewHub(logger, cfg.AllowedOrigins)
	factory := weather.NewSourceFactory(cfg, logger)
	if factory == nil {
		logger.Warn("external source not configured, readings will be synthetic")
	}
	rel := relay.New(factory, hub, store, logger, relay.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		SyntheticDelay: cfg.SyntheticStartDelay,
		TickInterval:   cfg.GeneratorInterval,
	})
	hub.SetListener(rel)

	mux := httpapi.NewMux(httpapi.Deps{
		Relay:     rel,
		Store:     store,
		WebSocket: hub,
		StaticDir: cfg.StaticDir,
	})
	weather.RegisterFeature(mux, store, hub, logger)
	srv := httpapi.NewServer(cfg, mux, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go func() {
		if err := rel.Run(relayCtx); err != nil {
			logger.Error("relay run", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		errCh = nil
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	// Relay first: stops the generator and closes the external source.
	logger.Info("stopping relay")
	stopRelay()
	select {
	case <-rel.Done():
	case <-time.After(relayStopTimeout):
		logger.Error("relay did not stop in time")
	}

	cancelConnect()
	<-connectDone
	closeCtx, cancelClose := context.WithTimeout(context.Background(), storeCloseTimeout)
	if err := store.Close(closeCtx); err != nil {
		logger.Error("persistence close", "error", err)
	}
	cancelClose()

	logger.Info("http shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if errCh != nil {
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}

	stopHub()
	<-hub.Done()

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}

func connectStore(ctx context.Context, store *sink.Store, logger *slog.Logger) {
	err := store.Connect(ctx)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotConfigured):
		logger.Warn("persistence not configured, queries answer with reference data")
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("persistence connect failed, continuing without storage", "error", err)
	}
}
