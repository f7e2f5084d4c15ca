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

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/Arrow-air/svc-telemetry/internal/config"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "svc-telemetry: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	flagSet := pflag.NewFlagSet("svc-telemetry", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	// runs after Shutdown, so the forwarder's final flush sees every
	// accepted record
	defer gw.close()

	gw.start()

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      gw.api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

wait:
	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("server failed: %w", err)
		case <-hup:
			if err := gw.reload(configPath); err != nil {
				log.Error("config reload failed, keeping current settings", "error", err)
			}
		case <-ctx.Done():
			break wait
		}
	}

	log.Info("shutting down server")
	if err := shutdown(server, gw, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
	return nil
}

// shutdown ends open streams, then waits up to timeout for in-flight
// requests to finish
func shutdown(server *http.Server, gw *gateway, timeout time.Duration) error {
	gw.api.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
