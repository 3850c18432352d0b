package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring and resetting the room adapter",
	}

	cmd.AddCommand(newAdminStatsCommand())
	cmd.AddCommand(newAdminClearCommand())

	return cmd
}

func newAdminStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node statistics",
		Long:  "Display room node statistics and broadcast counters",
		RunE:  runAdminStats,
	}

	return cmd
}

func newAdminClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every room membership",
		Long:  "Remove every socket from every room. Connected sockets stay connected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear all rooms without --yes")
			}
			return runAdminClear(cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing all rooms")

	return cmd
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status(cmd, "Fetching node statistics...\n")

	response, err := client.AdminGetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	return render(cmd, response, func(w io.Writer) {
		fmt.Fprintf(w, "\n📊 Room Node Statistics (%s):\n\n", response.NodeID)
		fmt.Fprintf(w, "Connected Sockets: %d\n", response.ConnectedSockets)
		fmt.Fprintf(w, "Rooms: %d\n", response.Rooms)
		fmt.Fprintf(w, "Sockets In Rooms: %d\n", response.MemberSockets)
		fmt.Fprintf(w, "Wildcard Patterns: %d\n", response.Patterns)
		fmt.Fprintf(w, "Broadcasts: %d\n", response.Broadcasts)
		fmt.Fprintf(w, "Delivered: %d\n", response.Delivered)
		fmt.Fprintf(w, "Failed: %d\n", response.Failed)
	})
}

func runAdminClear(cmd *cobra.Command) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.AdminClear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear rooms: %w", err)
	}

	return render(cmd, response, func(w io.Writer) {
		fmt.Fprintf(w, "✅ All rooms cleared\n")
	})
}
