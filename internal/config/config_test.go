package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.HTTP.TokenTTL)
	assert.False(t, cfg.HTTP.NoAuth)
	assert.True(t, cfg.GRPC.Enabled)
	assert.True(t, cfg.Membership.Wildcard)
	assert.False(t, cfg.Membership.WildcardDelete)
	assert.Equal(t, 1, cfg.Broadcast.Workers)
	assert.Equal(t, 10*time.Second, cfg.Broadcast.AsyncTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.UsesDefaultSecret())

	cfg.HTTP.SecretKey = "rotated"
	assert.False(t, cfg.UsesDefaultSecret())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "roomadapter.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
node_id: from-file
http:
  addr: ":7000"
membership:
  wildcard_delete: true
broadcast:
  workers: 2
`), 0o600))

	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("ROOMADAPTER_BROADCAST_WORKERS=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ROOMADAPTER_BROADCAST_WORKERS") })

	t.Setenv("ROOMADAPTER_HTTP_ADDR", ":7100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("node-id", "", "")
	flags.String("http-addr", "", "")
	require.NoError(t, flags.Parse([]string{"--node-id", "from-flag"}))

	cfg, err := Load(LoadOptions{
		ConfigFile:  file,
		DotEnvFiles: []string{dotenv, filepath.Join(dir, "missing.env")},
		Flags:       flags,
	})
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.NodeID, "flag beats file")
	assert.Equal(t, ":7100", cfg.HTTP.Addr, "env beats file, unset flag does not override")
	assert.True(t, cfg.Membership.WildcardDelete, "file beats default")
	assert.Equal(t, 3, cfg.Broadcast.Workers, ".env feeds the environment")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			NodeID: "n1",
			HTTP:   HTTPConfig{Addr: ":8080"},
			GRPC:   GRPCConfig{Enabled: true, Addr: ":9090"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty node id", mutate: func(c *Config) { c.NodeID = "" }, wantErr: ErrEmptyNodeID},
		{name: "empty http addr", mutate: func(c *Config) { c.HTTP.Addr = "" }, wantErr: ErrEmptyHTTPAddr},
		{name: "empty grpc addr", mutate: func(c *Config) { c.GRPC.Addr = "" }, wantErr: ErrEmptyGRPCAddr},
		{name: "grpc disabled", mutate: func(c *Config) { c.GRPC = GRPCConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
