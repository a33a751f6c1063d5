// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/handlers"
	"github.com/cinematch/cinematch/internal/provider"
	"github.com/cinematch/cinematch/internal/provider/plex"
)

func main() {
	logger := logrus.New()

	// First-run setup rebuilds the config; loop until a run ends for a
	// reason other than "reload requested".
	for {
		reload, err := run(logger)
		if err != nil {
			logger.Fatalf("server exited: %v", err)
		}
		if !reload {
			return
		}
		logger.Info("restarting with updated configuration")
	}
}

func run(logger *logrus.Logger) (reload bool, err error) {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return false, err
	}
	logger.SetLevel(parseLevel(cfg.LogLevel))

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return false, err
	}
	if cfg.RequiresSetup() {
		logger.Warn("no media servers configured; serving first-run setup")
	}

	reloadCh := make(chan struct{}, 1)
	requestReload := func() {
		select {
		case reloadCh <- struct{}{}:
		default:
		}
	}

	srv, err := handlers.NewServer(cfg, configPath, providers, logger, requestReload)
	if err != nil {
		return false, err
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", cfg.Addr())
		var serveErr error
		if cfg.TLS != nil {
			serveErr = httpSrv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return false, err
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		shutdown(httpSrv, logger)
		return false, nil
	case <-reloadCh:
		shutdown(httpSrv, logger)
		return true, nil
	}
}

func buildProviders(cfg *config.Config, logger *logrus.Logger) ([]provider.Provider, error) {
	providers := make([]provider.Provider, 0, len(cfg.Servers))
	for i, server := range cfg.Servers {
		if server.Type != "" && server.Type != "plex" {
			return nil, fmt.Errorf("unhandled server type: %s", server.Type)
		}
		p, err := plex.New(strconv.Itoa(i), server, logger)
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", i, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		available := p.IsAvailable(ctx)
		cancel()
		if !available {
			return nil, fmt.Errorf("media server %d (%s) is not available", i, server.URL)
		}

		providers = append(providers, p)
	}
	return providers, nil
}

func shutdown(srv *http.Server, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR", "CRITICAL":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
