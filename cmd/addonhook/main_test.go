package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonhook/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "addonhook dev")
	assert.Contains(t, out, "Layout: 7.0")
}

func TestLayoutCommand(t *testing.T) {
	out, err := execute(t, "layout")
	require.NoError(t, err)
	assert.Contains(t, out, "[layout]")
	assert.Contains(t, out, "[routing]")
	assert.Contains(t, out, "ReceiveEvent")
	assert.NotContains(t, out, "[sim]")

	cfg, err := config.Decode(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Layout, cfg.Layout)
}

func TestLayoutCommand_AllWithConfigFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "addonhook.toml", `
[layout]
version = "7.1"
`)

	out, err := execute(t, "layout", "--all", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[sim]")

	cfg, err := config.Decode(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, "7.1", cfg.Layout.Version)
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "simulate", "--quiet", "--frames", "3", "--interval", "1ms")
	require.NoError(t, err)
	assert.Regexp(t, `frames\s+3\n`, out)
	assert.Regexp(t, `addons created\s+2\n`, out, "_NaviMap and Inventory spawn at start")
}

func TestSimulateCommand_WithScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "show.lua", `
		lifecycle.on("PreShow", "Inventory", function(kind, args)
			args.open_silently = true
		end)
	`)

	out, err := execute(t, "simulate", "-q", "-n", "12", "--interval", "1ms", "--scripts", dir)
	require.NoError(t, err)
	assert.Regexp(t, `listeners\s+1\n`, out)
	assert.Regexp(t, `deliveries\s+1\n`, out, "Inventory is shown once at frame 10")
	assert.Regexp(t, `listener failures\s+0\n`, out)
}

func TestSimulateCommand_InvalidFlags(t *testing.T) {
	_, err := execute(t, "simulate", "-q", "--log-level", "loud")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "simulate", "-q", "--frames=-1")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "simulate", "-q", "--scripts", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
