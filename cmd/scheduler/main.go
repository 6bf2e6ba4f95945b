package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nemanja-m/scheduler/internal/scheduler/api/rest"
	"github.com/nemanja-m/scheduler/internal/scheduler/broker"
	"github.com/nemanja-m/scheduler/internal/scheduler/service"
	"github.com/nemanja-m/scheduler/internal/shared/config"
	"github.com/nemanja-m/scheduler/internal/shared/logging"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "scheduler",
		Short:         "Accept ensemble jobs over HTTP and queue their tasks on the broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to scheduler.yaml")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadScheduler(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	brokerURL := cfg.Broker.URL()
	dial := func(context.Context) (service.Session, error) {
		client, err := broker.Dial(brokerURL,
			broker.WithHeartbeat(cfg.Broker.Heartbeat),
			broker.WithConnectionName("scheduler"),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	dispatcher := service.NewDispatcher(logger, service.WithMetrics(service.NewMetrics(registry)))
	submitter := service.NewSubmitter(dial, dispatcher, logger)
	server := rest.NewServer(cfg.HTTP, submitter, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting scheduler API server", "addr", cfg.HTTP.Addr, "broker_host", cfg.Broker.Host)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("Shutting down server", "signal", sig.String())
	}

	// in-flight submissions finish publishing before the process exits
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
