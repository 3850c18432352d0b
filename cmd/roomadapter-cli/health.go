package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the room adapter server",
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status(cmd, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	return render(cmd, health, func(w io.Writer) {
		if health.Healthy {
			fmt.Fprintf(w, "✅ Server is healthy!\n")
		} else {
			fmt.Fprintf(w, "❌ Server is not healthy!\n")
		}
		fmt.Fprintf(w, "Registry: %t\n", health.RegistryHealthy)
		fmt.Fprintf(w, "Dispatcher: %t\n", health.DispatcherHealthy)
		fmt.Fprintf(w, "Connected Sockets: %d\n", health.ConnectedSockets)
		fmt.Fprintf(w, "Rooms: %d\n", health.Rooms)
		if health.Message != "" {
			fmt.Fprintf(w, "Message: %s\n", health.Message)
		}
	})
}
