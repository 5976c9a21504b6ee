package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"run", "ingest", "process", "features", "migrate", "status", "feeds", "serve", "schedule"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "dealflow", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"mode", "limit", "json"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
	assert.Equal(t, "", runCmd.Flags().Lookup("mode").DefValue)
}

func TestStageCommands_Flags(t *testing.T) {
	for _, use := range []string{"ingest", "process", "features"} {
		c, _, err := rootCmd.Find([]string{use})
		require.NoError(t, err)
		flag := c.Flags().Lookup("limit")
		require.NotNil(t, flag, "%s should have --limit", use)
		assert.Equal(t, "0", flag.DefValue)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestFeedsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range feedsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["list"])
}

func TestResolveMode(t *testing.T) {
	c := &config.Config{Worker: config.WorkerConfig{Mode: config.ModeProcessing}}
	assert.Equal(t, config.ModeFeatures, resolveMode(config.ModeFeatures, c))
	assert.Equal(t, config.ModeProcessing, resolveMode("", c))
}
