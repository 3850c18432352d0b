package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides an HTTP client for the room adapter API.
// Requests run through a circuit breaker; only transport errors and 5xx
// responses count as failures.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	token      string
	baseURL    *url.URL
}

// NewClient creates a new HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	// Validate required config
	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	// Parse base URL
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	failures := config.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "roomadapter-http",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    breaker,
		baseURL:    baseURL,
	}, nil
}

// Authenticate authenticates with the server and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// Join adds socketID to room and returns the socket's rooms
func (c *Client) Join(ctx context.Context, room, socketID string) (*MembershipResponse, error) {
	var resp MembershipResponse
	path := "/api/v1/rooms/" + url.PathEscape(room) + "/members"
	if err := c.authed(ctx, http.MethodPost, path, JoinRequest{SocketID: socketID}, &resp); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	return &resp, nil
}

// Leave removes socketID from room and returns the socket's rooms
func (c *Client) Leave(ctx context.Context, room, socketID string) (*MembershipResponse, error) {
	var resp MembershipResponse
	path := "/api/v1/rooms/" + url.PathEscape(room) + "/members/" + url.PathEscape(socketID)
	if err := c.authed(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to leave room: %w", err)
	}
	return &resp, nil
}

// LeaveAll removes socketID from every room
func (c *Client) LeaveAll(ctx context.Context, socketID string) (*MembershipResponse, error) {
	var resp MembershipResponse
	if err := c.authed(ctx, http.MethodDelete, "/api/v1/sockets/"+url.PathEscape(socketID)+"/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to leave all rooms: %w", err)
	}
	return &resp, nil
}

// Rooms returns every room
func (c *Client) Rooms(ctx context.Context) ([]string, error) {
	var resp RoomsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return resp.Rooms, nil
}

// SocketRooms returns the rooms of socketID
func (c *Client) SocketRooms(ctx context.Context, socketID string) ([]string, error) {
	var resp MembershipResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/sockets/"+url.PathEscape(socketID)+"/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list socket rooms: %w", err)
	}
	return resp.Rooms, nil
}

// Clients returns the members of room
func (c *Client) Clients(ctx context.Context, room string) ([]string, error) {
	var resp ClientsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/rooms/"+url.PathEscape(room)+"/clients", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return resp.Clients, nil
}

// Empty removes every member of room
func (c *Client) Empty(ctx context.Context, room string) (*EmptyResponse, error) {
	var resp EmptyResponse
	if err := c.authed(ctx, http.MethodDelete, "/api/v1/rooms/"+url.PathEscape(room), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to empty room: %w", err)
	}
	return &resp, nil
}

// Broadcast fans a message out on the server's node
func (c *Client) Broadcast(ctx context.Context, req BroadcastRequest) (*broadcast.Result, error) {
	var resp broadcast.Result
	if err := c.authed(ctx, http.MethodPost, "/api/v1/broadcast", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to broadcast: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the server
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminGetStats returns node statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// AdminClear drops all membership on the server (admin only)
func (c *Client) AdminClear(ctx context.Context) (*AdminClearResponse, error) {
	var resp AdminClearResponse
	if err := c.authed(ctx, http.MethodDelete, "/api/v1/admin/rooms", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to clear rooms: %w", err)
	}
	return &resp, nil
}

func (c *Client) authed(ctx context.Context, method, path string, reqBody, respBody any) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequest(ctx, method, path, reqBody, respBody, true)
}

// doRequest performs an HTTP request through the circuit breaker
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any, requireAuth bool) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, reqBody, respBody, requireAuth)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, reqBody, respBody any, requireAuth bool) error {
	// The path is already escaped; keep it verbatim
	rel, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}
	fullURL := c.baseURL.ResolveReference(rel)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// ServerURL returns the configured base URL
func (c *Client) ServerURL() *url.URL {
	u := *c.baseURL
	return &u
}
