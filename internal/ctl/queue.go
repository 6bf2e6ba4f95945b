package ctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// rolesFor returns the single role named by flag, or every role when it is
// empty.
func rolesFor(flag string) ([]core.Role, error) {
	if flag == "" {
		return core.Roles(), nil
	}
	role, err := core.ParseRole(flag)
	if err != nil {
		return nil, err
	}
	return []core.Role{role}, nil
}

func QueueCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the task queues of a job",
	}

	cmd.AddCommand(queueSubCmd(app, "create", "Declare the durable task queues",
		func(client QueueClient, name string) (string, error) {
			if err := client.CreateQueue(name); err != nil {
				return "", err
			}
			return "created", nil
		}))
	cmd.AddCommand(queueSubCmd(app, "exists", "Report whether the task queues exist",
		func(client QueueClient, name string) (string, error) {
			ok, err := client.QueueExists(name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("exists=%t", ok), nil
		}))
	cmd.AddCommand(queueSubCmd(app, "size", "Print the number of ready messages",
		func(client QueueClient, name string) (string, error) {
			n, err := client.QueueSize(name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("size=%d", n), nil
		}))
	cmd.AddCommand(queueSubCmd(app, "delete", "Delete the task queues and their messages",
		func(client QueueClient, name string) (string, error) {
			n, err := client.DeleteQueue(name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("deleted purged=%d", n), nil
		}))
	return cmd
}

func queueSubCmd(app *App, use, short string, op func(client QueueClient, name string) (string, error)) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   use + " <job>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := rolesFor(role)
			if err != nil {
				return err
			}
			return app.withBroker(func(client QueueClient) error {
				for _, r := range roles {
					name := core.QueueName(args[0], r)
					out, err := op(client, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(app.Out, "%s %s\n", name, out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "learner, filter or fuser (default all)")
	return cmd
}
