package ctl

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/ffjson/ffjson"
	"github.com/spf13/cobra"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

func ConsumeCmd(app *App) *cobra.Command {
	var (
		role    string
		count   int
		ack     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "consume <job>",
		Short: "Pull task messages from a role queue and print them as JSON lines",
		Long: "Pull messages from a role queue. Messages are acknowledged only with " +
			"--ack; otherwise they return to the queue when schedctl exits.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := core.ParseRole(role)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			name := core.QueueName(args[0], r)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return app.withBroker(func(client QueueClient) error {
				messages, err := client.Consume(ctx, name, count)
				if err != nil {
					return err
				}
				tags := make([]uint64, 0, len(messages))
				for _, m := range messages {
					line, err := ffjson.Marshal(m.Body)
					if err != nil {
						return fmt.Errorf("encode message %d: %w", m.DeliveryTag, err)
					}
					fmt.Fprintf(app.Out, "%s\n", line)
					tags = append(tags, m.DeliveryTag)
				}
				if !ack {
					return nil
				}
				if err := client.Acknowledge(name, tags); err != nil {
					return err
				}
				app.Logger.Info("Messages acknowledged", "queue", name, "count", len(tags))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", string(core.RoleLearner), "learner, filter or fuser")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of messages to pull")
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge the pulled messages")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up waiting after this long (0 waits forever)")
	return cmd
}
