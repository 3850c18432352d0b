package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newJoinCommand() *cobra.Command {
	var socketID string

	cmd := &cobra.Command{
		Use:   "join ROOM",
		Short: "Add a socket to a room",
		Long: `Add a socket to a room. A room containing * is a wildcard pattern:
the socket then receives broadcasts addressed to every matching room.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, args[0], socketID)
		},
	}

	cmd.Flags().StringVar(&socketID, "socket", "", "Socket ID (required)")
	if err := cmd.MarkFlagRequired("socket"); err != nil {
		panic(fmt.Sprintf("Failed to mark socket as required: %v", err))
	}

	return cmd
}

func runJoin(cmd *cobra.Command, room, socketID string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.Join(ctx, room, socketID)
	if err != nil {
		return err
	}

	return render(cmd, response, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Socket %s joined '%s'\n", response.SocketID, room)
		fmt.Fprintf(w, "Rooms: %v\n", response.Rooms)
	})
}

func newLeaveCommand() *cobra.Command {
	var (
		socketID string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "leave [ROOM]",
		Short: "Remove a socket from a room",
		Long: `Remove a socket from a room, or from every room with --all.
With wildcard delete enabled on the server, a pattern removes every matching room.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := ""
			if len(args) == 1 {
				room = args[0]
			}
			return runLeave(cmd, room, socketID, all)
		},
	}

	cmd.Flags().StringVar(&socketID, "socket", "", "Socket ID (required)")
	cmd.Flags().BoolVar(&all, "all", false, "Leave every room")
	if err := cmd.MarkFlagRequired("socket"); err != nil {
		panic(fmt.Sprintf("Failed to mark socket as required: %v", err))
	}

	return cmd
}

func runLeave(cmd *cobra.Command, room, socketID string, all bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	if room == "" && !all {
		return fmt.Errorf("a room is required unless --all is set")
	}
	if room != "" && all {
		return fmt.Errorf("--all cannot be combined with a room")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if all {
		response, err := client.LeaveAll(ctx, socketID)
		if err != nil {
			return err
		}
		return render(cmd, response, func(w io.Writer) {
			fmt.Fprintf(w, "✅ Socket %s left every room\n", socketID)
		})
	}

	response, err := client.Leave(ctx, room, socketID)
	if err != nil {
		return err
	}
	return render(cmd, response, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Socket %s left '%s'\n", socketID, room)
		fmt.Fprintf(w, "Rooms: %v\n", response.Rooms)
	})
}

func newRoomsCommand() *cobra.Command {
	var socketID string

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms",
		Long:  "List every room with at least one member, or the rooms of one socket with --socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRooms(cmd, socketID)
		},
	}

	cmd.Flags().StringVar(&socketID, "socket", "", "Only list the rooms of this socket")

	return cmd
}

func runRooms(cmd *cobra.Command, socketID string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		rooms []string
		err   error
	)
	if socketID != "" {
		rooms, err = client.SocketRooms(ctx, socketID)
	} else {
		rooms, err = client.Rooms(ctx)
	}
	if err != nil {
		return err
	}

	return render(cmd, map[string][]string{"rooms": nonNil(rooms)}, func(w io.Writer) {
		printList(w, rooms, "No rooms found")
	})
}

func newClientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients ROOM",
		Short: "List the sockets in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClients(cmd, args[0])
		},
	}

	return cmd
}

func runClients(cmd *cobra.Command, room string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clients, err := client.Clients(ctx, room)
	if err != nil {
		return err
	}

	response := map[string]any{"room": room, "clients": nonNil(clients)}
	return render(cmd, response, func(w io.Writer) {
		printList(w, clients, fmt.Sprintf("No sockets in '%s'", room))
	})
}

func newEmptyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "empty ROOM",
		Short: "Remove every socket from a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmpty(cmd, args[0])
		},
	}

	return cmd
}

func runEmpty(cmd *cobra.Command, room string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := client.Empty(ctx, room)
	if err != nil {
		return err
	}

	return render(cmd, response, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Room '%s' emptied\n", response.Room)
	})
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
