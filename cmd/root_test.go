package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "generate", "migrate", "templates"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestTemplatesSubcommands(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"templates", "activate"})
	require.NoError(t, err)
	assert.Equal(t, "activate <template-id>", cmd.Use)
}
