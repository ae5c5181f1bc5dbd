package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synqronlabs/maildrop"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("maildrop", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlagsRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "non-numeric port", args: []string{"-p", "smtp"}},
		{name: "port out of range", args: []string{"-p", "70000"}},
		{name: "port zero", args: []string{"-p", "0"}},
		{name: "zero workers", args: []string{"-t", "0"}},
		{name: "non-numeric workers", args: []string{"-t", "four"}},
		{name: "zero timeout", args: []string{"-s", "0"}},
		{name: "log format", args: []string{"-log-format", "xml"}},
		{name: "log level", args: []string{"-log-level", "loud"}},
		{name: "unknown flag", args: []string{"-z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseFlags(newFlagSet(), tt.args)
			assert.Error(t, err)
		})
	}
}

func TestRunExitCodeOnBadFlags(t *testing.T) {
	stderr := os.Stderr
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer devnull.Close()
	os.Stderr = devnull
	defer func() { os.Stderr = stderr }()

	assert.Equal(t, 2, run([]string{"-t", "many"}))
	assert.Equal(t, 2, run([]string{"-p", "-1"}))
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maildrop.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
hostname = "file.example"
workers = 8
timeout = "10m"
random_filenames = true
`), 0o600))

	opts, set, err := parseFlags(newFlagSet(), []string{"-c", path, "-t", "2", "-r", "-p", "2525"})
	require.NoError(t, err)

	cfg := maildrop.DefaultServerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, maildrop.LoadConfigFile(opts.configPath, &cfg))
	opts.apply(&cfg, set)

	assert.Equal(t, "file.example", cfg.Hostname, "unset flags keep file values")
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 2525, cfg.Port)
	assert.False(t, cfg.RandomFilenames)
}

func TestApplyDefaultsHostname(t *testing.T) {
	opts, set, err := parseFlags(newFlagSet(), nil)
	require.NoError(t, err)

	cfg := maildrop.DefaultServerConfig()
	opts.apply(&cfg, set)
	assert.NotEmpty(t, cfg.Hostname)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.RandomFilenames)
}

func TestOpenLog(t *testing.T) {
	w, closeLog, err := openLog("stderr")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	closeLog()

	path := filepath.Join(t.TempDir(), "maildrop.log")
	w, closeLog, err = openLog(path)
	require.NoError(t, err)
	newLogger(w, "json", slog.LevelInfo).Info("hello")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
