package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/httpclient"
)

const (
	transportWS  = "ws"
	transportSSE = "sse"
)

func newListenCommand() *cobra.Command {
	var (
		socketID  string
		rooms     []string
		transport string
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect a socket and print what it receives",
		Long: `Connect a socket over WebSocket (default) or Server-Sent Events, join rooms,
and print every frame the socket receives. The socket leaves all rooms on exit.
Press Ctrl+C to stop listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cmd, socketID, rooms, transport, raw)
		},
	}

	cmd.Flags().StringVar(&socketID, "id", "", "Socket ID (generated by the server when empty)")
	cmd.Flags().StringArrayVar(&rooms, "room", nil, "Room to join (repeatable)")
	cmd.Flags().StringVar(&transport, "transport", transportWS, "Transport: ws or sse")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print frames exactly as received")

	return cmd
}

func runListen(ctx context.Context, cmd *cobra.Command, socketID string, rooms []string, transport string, raw bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	status(cmd, "🎧 Listening on %s via %s (rooms: %v)\n", serverURL, transport, rooms)
	status(cmd, "Press Ctrl+C to stop listening\n")

	var (
		count int
		err   error
	)
	switch transport {
	case transportWS:
		count, err = listenWebSocket(ctx, cmd, socketID, rooms, raw)
	case transportSSE:
		count, err = listenSSE(ctx, cmd, socketID, rooms, raw)
	default:
		return fmt.Errorf("unknown transport %q (want ws or sse)", transport)
	}

	status(cmd, "\n✅ Stopped listening. Received %d frames.\n", count)
	return err
}

// websocketURL maps the server URL onto the socket endpoint
func websocketURL(socketID string, rooms []string) string {
	u := client.ServerURL()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws"

	values := url.Values{}
	if socketID != "" {
		values.Set("id", socketID)
	}
	for _, room := range rooms {
		values.Add("room", room)
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func listenWebSocket(ctx context.Context, cmd *cobra.Command, socketID string, rooms []string, raw bool) (int, error) {
	target := websocketURL(socketID, rooms)

	header := http.Header{}
	if t := client.GetToken(); t != "" && !noAuth {
		header.Set("Authorization", "Bearer "+t)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return 0, fmt.Errorf("failed to connect (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancel
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	count := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return count, nil
			}
			return count, fmt.Errorf("connection lost: %w", err)
		}
		count++
		if err := printFrame(cmd, data, raw); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ %v\n", err)
		}
	}
}

func listenSSE(ctx context.Context, cmd *cobra.Command, socketID string, rooms []string, raw bool) (int, error) {
	stream, err := client.Stream(ctx, httpclient.StreamConfig{
		SocketID:             socketID,
		Rooms:                rooms,
		MaxReconnectAttempts: 0, // Infinite retries
	})
	if err != nil {
		return 0, fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close stream client: %v\n", err)
		}
	}()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, nil

		case frame, ok := <-stream.Frames():
			if !ok {
				return count, nil
			}
			count++
			if err := writeFrame(cmd, frame, raw); err != nil {
				return count, err
			}

		case err, ok := <-stream.Errors():
			if !ok {
				return count, nil
			}
			// Errors are non-fatal; the stream reconnects
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ Stream error: %v\n", err)
		}
	}
}

func printFrame(cmd *cobra.Command, data []byte, raw bool) error {
	if raw {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	frame, err := httpclient.ParseFrame(data)
	if err != nil {
		return err
	}
	return writeFrame(cmd, frame, false)
}

// frameOutput is the json/yaml shape of one received frame
type frameOutput struct {
	Event   string          `json:"event"`
	Method  string          `json:"method,omitempty"`
	Message []any           `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func writeFrame(cmd *cobra.Command, frame httpclient.Frame, raw bool) error {
	w := cmd.OutOrStdout()

	if raw {
		encoded, err := json.Marshal(frameOutput{Event: frame.Event, Method: frame.Method, Message: frame.Message, Data: frame.Data})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(encoded))
		return nil
	}

	out := frameOutput{Event: frame.Event, Method: frame.Method, Message: frame.Message}
	if frame.Event != "message" {
		out.Data = frame.Data
	}

	return render(cmd, out, func(w io.Writer) {
		switch frame.Event {
		case "message":
			encoded, err := json.Marshal(frame.Message)
			if err != nil {
				encoded = []byte(fmt.Sprint(frame.Message))
			}
			fmt.Fprintf(w, "📨 [%s] %s\n", frame.Method, encoded)
		case "error":
			fmt.Fprintf(w, "❌ error: %s\n", frame.Data)
		default:
			fmt.Fprintf(w, "🔔 %s: %s\n", frame.Event, frame.Data)
		}
	})
}
