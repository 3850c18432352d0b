package httpclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StreamClient connects an SSE socket and reads its frames
type StreamClient struct {
	client *Client
	frames chan Frame
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	response *http.Response
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// SocketID to connect as (optional; the server generates one)
	SocketID string

	// Rooms to join when the stream opens
	Rooms []string

	// BufferSize for the frame channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens an SSE socket. Rooms are rejoined on every reconnect.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		frames: make(chan Frame, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Frames returns the channel for receiving frames
func (sc *StreamClient) Frames() <-chan Frame {
	return sc.frames
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and cleans up resources
func (sc *StreamClient) Close() error {
	sc.cancel()

	sc.mu.Lock()
	if sc.response != nil {
		sc.response.Body.Close()
	}
	sc.mu.Unlock()

	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.frames)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := sc.connectAndStream(ctx, config); err != nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			case <-ctx.Done():
				return
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			case <-ctx.Done():
			}
			return
		}

		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream opens the SSE socket and processes frames
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/stream"})

	values := url.Values{}
	if config.SocketID != "" {
		values.Set("id", config.SocketID)
	}
	for _, room := range config.Rooms {
		values.Add("room", room)
	}
	streamURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// Streams are long-lived; the client timeout would cut them off
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	sc.mu.Lock()
	sc.response = resp
	sc.mu.Unlock()
	defer func() {
		resp.Body.Close()
		sc.mu.Lock()
		sc.response = nil
		sc.mu.Unlock()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			// Keepalive comments and blank separators
			continue
		}

		frame, err := ParseFrame([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			select {
			case sc.errors <- err:
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		select {
		case sc.frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
