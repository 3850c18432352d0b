package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/config"
	"github.com/rmacdonaldsmith/roomadapter-go/internal/rpcapi"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/httpclient"
)

// TestVersionFlag tests the --version flag
func TestVersionFlag(t *testing.T) {
	cmd := newRootCommand()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Room Adapter v0.1.0")
}

// TestHealthFlag tests the --health flag
func TestHealthFlag(t *testing.T) {
	cmd := newRootCommand()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetArgs([]string{"--health", "--grpc=false", "--node-id", "health-node"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Health Status")
	assert.Contains(t, output.String(), "Overall: ✅ Healthy")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--log-level", "chatty", "--grpc=false"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "invalid log level")
}

func startDaemon(t *testing.T, mutate func(*config.Config)) *daemon {
	t.Helper()

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	cfg.NodeID = "daemon-test"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	d, err := newDaemon(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.run(ctx)
	}()

	select {
	case <-d.ready:
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d
}

func TestDaemon_ServesHTTPAndRPC(t *testing.T) {
	d := startDaemon(t, nil)
	ctx := context.Background()

	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: "http://" + d.httpAddr,
		ClientID:  "tester",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)

	health, err := client.GetHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	require.NoError(t, client.Authenticate(ctx))

	rpcClient, err := rpcapi.Dial(d.rpc.Addr(), client.GetToken())
	require.NoError(t, err)
	defer rpcClient.Close()

	attached, err := rpcClient.Attach(ctx, "listener", "news.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"news.*"}, attached.Rooms)

	// Membership changed over gRPC is visible over HTTP
	rooms, err := rpcClient.Join(ctx, "listener", "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby", "news.*"}, rooms)

	clients, err := client.Clients(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"listener"}, clients)

	result, err := client.Broadcast(ctx, httpclient.BroadcastRequest{
		Message: broadcast.Message{"headline"},
		Rooms:   []string{"news.sports"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	frame, err := attached.Recv()
	require.NoError(t, err)
	assert.Equal(t, broadcast.Message{"headline"}, frame.Message)

	resp, err := http.Get("http://" + d.httpAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomadapter_rooms 2")
}

func TestDaemon_RPCRequiresToken(t *testing.T) {
	d := startDaemon(t, nil)

	rpcClient, err := rpcapi.Dial(d.rpc.Addr(), "")
	require.NoError(t, err)
	defer rpcClient.Close()

	_, err = rpcClient.Join(context.Background(), "s1", "lobby")
	assert.Error(t, err)
}

func TestDaemon_NoAuthWithoutGRPC(t *testing.T) {
	d := startDaemon(t, func(cfg *config.Config) {
		cfg.HTTP.NoAuth = true
		cfg.GRPC.Enabled = false
	})
	assert.Nil(t, d.rpc)

	client, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://" + d.httpAddr, ClientID: "dev"})
	require.NoError(t, err)
	client.SetToken("no-auth-mode")

	joined, err := client.Join(context.Background(), "lobby", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, joined.Rooms)
}

func TestDaemon_WarnsAboutInsecureDefaults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name: "default secret",
			want: []string{"tokens are signed with the default development secret, set --secret-key or ROOMADAPTER_HTTP_SECRET_KEY"},
		},
		{
			name:   "configured secret",
			mutate: func(cfg *config.Config) { cfg.HTTP.SecretKey = "production-secret" },
		},
		{
			name: "no auth",
			mutate: func(cfg *config.Config) {
				cfg.HTTP.SecretKey = "production-secret"
				cfg.HTTP.NoAuth = true
			},
			want: []string{"authentication disabled on client routes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(config.LoadOptions{})
			require.NoError(t, err)
			cfg.GRPC.Enabled = false
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			core, logs := observer.New(zapcore.WarnLevel)
			d, err := newDaemon(cfg, zap.New(core))
			require.NoError(t, err)
			t.Cleanup(func() { d.node.Close() })

			d.warnInsecureDefaults()

			var got []string
			for _, entry := range logs.All() {
				got = append(got, entry.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
