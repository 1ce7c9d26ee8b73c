package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "clients", "credits", "icp", "persona", "enrich", "jobs", "strategy", "list", "market", "contacts"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "prospect", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCreditsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range creditsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"balance", "add", "history"} {
		assert.True(t, names[name], "credits should have subcommand %q", name)
	}
}

func TestListCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range listCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"create", "build", "qualify", "members"} {
		assert.True(t, names[name], "list should have subcommand %q", name)
	}
}

func TestEnrichCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "icp", "persona", "max-contacts", "verify", "strategy"} {
		assert.NotNil(t, enrichCmd.Flags().Lookup(name), "enrich should have --%s flag", name)
	}
	flag := enrichCmd.Flags().Lookup("max-contacts")
	require.NotNil(t, flag)
	assert.Equal(t, "5", flag.DefValue)
}

func TestCreditsHistory_Flags(t *testing.T) {
	flag := creditsHistoryCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestListBuild_Flags(t *testing.T) {
	flag := listBuildCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "25", flag.DefValue)
}

func TestStageFlag(t *testing.T) {
	s, err := stageFlag("qualified")
	require.NoError(t, err)
	assert.Equal(t, "qualified", string(s))

	_, err = stageFlag("won")
	assert.ErrorContains(t, err, "unknown pipeline stage")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "-", orDash(""))
}
