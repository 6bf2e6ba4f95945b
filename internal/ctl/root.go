// Package ctl implements schedctl, the operator tool for submitting jobs to
// the scheduler and inspecting the role queues directly on the broker.
package ctl

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gojektech/heimdall/v6"
	"github.com/gojektech/heimdall/v6/httpclient"
	"github.com/spf13/cobra"

	"github.com/nemanja-m/scheduler/internal/scheduler/broker"
	"github.com/nemanja-m/scheduler/internal/shared/config"
	"github.com/nemanja-m/scheduler/internal/shared/logging"
)

// QueueClient is the broker surface used by the queue and consume commands.
type QueueClient interface {
	CreateQueue(name string) error
	QueueExists(name string) (bool, error)
	QueueSize(name string) (int, error)
	DeleteQueue(name string) (int, error)
	Consume(ctx context.Context, name string, count int) ([]broker.Message, error)
	Acknowledge(name string, tags []uint64) error
	Close() error
}

// App carries the dependencies of every command. Nil fields are filled
// from the loaded configuration before a command runs.
type App struct {
	Config *config.CtlConfig
	Logger logging.Logger
	Out    io.Writer
	HTTP   *httpclient.Client
	Dial   func(cfg config.BrokerConfig) (QueueClient, error)
}

func dialBroker(cfg config.BrokerConfig) (QueueClient, error) {
	client, err := broker.Dial(cfg.URL(),
		broker.WithHeartbeat(cfg.Heartbeat),
		broker.WithConnectionName("schedctl"),
		broker.WithAppID("schedctl"),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewHTTPClient builds the retrying client used to reach the scheduler.
func NewHTTPClient(cfg config.ServerConfig) *httpclient.Client {
	backoff := max(cfg.Backoff, time.Millisecond)
	return httpclient.NewClient(
		httpclient.WithHTTPTimeout(cfg.Timeout),
		httpclient.WithRetryCount(max(cfg.Retries, 0)),
		httpclient.WithRetrier(heimdall.NewRetrier(heimdall.NewConstantBackoff(backoff, backoff/2))),
	)
}

func (a *App) init(configPath string) error {
	if a.Config == nil {
		cfg, err := config.LoadCtl(configPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if a.Logger == nil {
		logger, err := logging.New(a.Config.Logging)
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.HTTP == nil {
		a.HTTP = NewHTTPClient(a.Config.Server)
	}
	if a.Dial == nil {
		a.Dial = dialBroker
	}
	return nil
}

func NewRootCmd(app *App) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "schedctl",
		Short:         "Submit ensemble jobs and inspect their task queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to schedctl.yaml")

	rootCmd.AddCommand(SubmitCmd(app))
	rootCmd.AddCommand(QueueCmd(app))
	rootCmd.AddCommand(ConsumeCmd(app))
	return rootCmd
}

// withBroker runs fn on a fresh broker connection and closes it afterwards.
func (a *App) withBroker(fn func(client QueueClient) error) error {
	client, err := a.Dial(a.Config.Broker)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			a.Logger.Warn("Failed to close broker connection", "error", cerr)
		}
	}()
	return fn(client)
}
