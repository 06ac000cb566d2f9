package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-call-later/internal/config"
)

func TestBuildLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, buildLogger("debug", "test").Enabled(ctx, slog.LevelDebug))
	assert.False(t, buildLogger("info", "test").Enabled(ctx, slog.LevelDebug))
	assert.False(t, buildLogger("WARN", "test").Enabled(ctx, slog.LevelInfo))
	assert.True(t, buildLogger("error", "test").Enabled(ctx, slog.LevelError))
	assert.False(t, buildLogger("error", "test").Enabled(ctx, slog.LevelWarn))
}

func TestWriteConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "calllater.yaml")

	require.NoError(t, writeConfig(dest, defaultYAML, false))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, defaultYAML, string(got))

	err = writeConfig(dest, "x: 1\n", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, writeConfig(dest, "x: 1\n", true))
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "x: 1\n", string(got))
}

func TestDefaultYAML_LoadsAndValidates(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(defaultYAML)))

	cfg := config.Load(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DispatchInline, cfg.DispatchMode)
	assert.Equal(t, 1025, cfg.SMTPPort)
	assert.Empty(t, cfg.MetricsAddr, "metrics address is left to each command")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "calllater "))
	assert.Contains(t, out.String(), "go version:")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"poll", "check", "worker", "api", "migrate", "init", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRegistry_BuiltInTaskTypes(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	registry := newRegistry(config.Load(v))

	assert.ElementsMatch(t, []string{"email", "webhook"}, registry.TaskTypes())
}
