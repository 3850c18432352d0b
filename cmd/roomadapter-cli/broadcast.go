package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/httpclient"
)

func newBroadcastCommand() *cobra.Command {
	var (
		message string
		rooms   []string
		except  []string
		method  string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Broadcast a message",
		Long: `Broadcast a message to the members of one or more rooms, or to every
socket when no room is given. The message is a JSON array of arguments,
for example '["chat", {"text": "hi"}]'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(cmd, message, rooms, except, method, count)
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Message as a JSON array (required)")
	cmd.Flags().StringArrayVar(&rooms, "room", nil, "Target room (repeatable)")
	cmd.Flags().StringArrayVar(&except, "except", nil, "Socket or room to skip (repeatable)")
	cmd.Flags().StringVar(&method, "method", "", "Socket method: write or send (default write)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of times to send the message; results are summed")
	if err := cmd.MarkFlagRequired("message"); err != nil {
		panic(fmt.Sprintf("Failed to mark message as required: %v", err))
	}

	return cmd
}

func runBroadcast(cmd *cobra.Command, messageStr string, rooms, except []string, method string, count int) error {
	if err := requireAuthentication(); err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", count)
	}

	var msg broadcast.Message
	if err := json.Unmarshal([]byte(messageStr), &msg); err != nil {
		return fmt.Errorf("invalid JSON message (want an array): %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if len(rooms) == 0 {
		status(cmd, "Broadcasting to every socket...\n")
	} else {
		status(cmd, "Broadcasting to %v...\n", rooms)
	}

	req := httpclient.BroadcastRequest{
		Message: msg,
		Rooms:   rooms,
		Except:  except,
		Method:  method,
	}

	var result broadcast.Result
	for i := 0; i < count; i++ {
		r, err := client.Broadcast(ctx, req)
		if err != nil {
			return err
		}
		result.Add(*r)
	}

	return render(cmd, result, func(w io.Writer) {
		fmt.Fprintf(w, "✅ Broadcast complete\n")
		if count > 1 {
			fmt.Fprintf(w, "Sent: %d\n", count)
		}
		fmt.Fprintf(w, "Targeted: %d\n", result.Targeted)
		fmt.Fprintf(w, "Delivered: %d\n", result.Delivered)
		if result.Suppressed > 0 {
			fmt.Fprintf(w, "Suppressed: %d\n", result.Suppressed)
		}
		if result.Failed > 0 {
			fmt.Fprintf(w, "Failed: %d\n", result.Failed)
		}
	})
}
