package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailmesh/config"
)

func withConfig(t *testing.T) string {
	t.Helper()
	color.NoColor = true

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "mailmesh.yaml")
	cfg := config.Default()
	cfg.Logging.Level = "error"
	require.NoError(t, config.Write(path, cfg))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
	return path
}

func runDispatchArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newDispatchCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDispatchCommand(t *testing.T) {
	withConfig(t)

	t.Run("contexts fan out in order", func(t *testing.T) {
		out, err := runDispatchArgs(t, "-i", "Summarize", "-c", "alpha", "-c", "beta")
		require.NoError(t, err)

		assert.Contains(t, out, "[0] Mock response to: Summarize\n\nContext:\nalpha")
		assert.Contains(t, out, "[1] Mock response to: Summarize\n\nContext:\nbeta")
		assert.Less(t, bytes.Index([]byte(out), []byte("[0]")), bytes.Index([]byte(out), []byte("[1]")))
		assert.Contains(t, out, "(branch ", "mapping is on by default")
	})

	t.Run("mapping can be switched off", func(t *testing.T) {
		out, err := runDispatchArgs(t, "-i", "Summarize", "--mapping=false")
		require.NoError(t, err)
		assert.Contains(t, out, "[0] Mock response to: Summarize\n")
		assert.NotContains(t, out, "(branch ")
	})

	t.Run("mapping prints json records", func(t *testing.T) {
		out, err := runDispatchArgs(t, "-i", "Tell a joke", "--replicas", "3", "--mapping")
		require.NoError(t, err)

		var records []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &records))
		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Equal(t, "Mock response to: Tell a joke", rec["response"])
			assert.Equal(t, "Tell a joke", rec["instruction"])
			assert.NotEmpty(t, rec["branch_id"])
		}
	})

	t.Run("missing instruction", func(t *testing.T) {
		_, err := runDispatchArgs(t, "-c", "alpha")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--instruction")
	})

	t.Run("zip truncates to the shorter side", func(t *testing.T) {
		out, err := runDispatchArgs(t, "-i", "a", "-i", "b", "-c", "x", "-c", "y", "-c", "z")
		require.NoError(t, err)
		assert.Contains(t, out, "[1] Mock response to: b\n\nContext:\ny")
		assert.NotContains(t, out, "[2]")
	})
}

func TestParseContext(t *testing.T) {
	assert.Equal(t, "plain text", parseContext("plain text"))
	assert.Equal(t, "42", parseContext("42"))
	assert.Equal(t, map[string]any{"topic": "go"}, parseContext(`{"topic":"go"}`))
	assert.Equal(t, []any{"a", "b"}, parseContext(`["a","b"]`))
	assert.Equal(t, `{"broken"`, parseContext(`{"broken"`))
}

func TestInputs(t *testing.T) {
	assert.False(t, instructionInput([]string{"one"}).IsMany())
	assert.Equal(t, 2, instructionInput([]string{"a", "b"}).Len())
	assert.Equal(t, []any{nil}, contextInput(nil).Values())
	assert.Equal(t, []any{"x", map[string]any{"k": "v"}}, contextInput([]string{"x", `{"k":"v"}`}).Values())
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Dispatch, cfg.Dispatch)

	rootCmd.SetArgs([]string{"config", "init", path})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "mailmesh version")
}
