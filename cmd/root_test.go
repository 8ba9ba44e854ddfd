package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootRegistersCommands(t *testing.T) {
	want := []string{
		"config", "import", "export", "process", "serve",
		"approve", "decline", "unapprove", "reprocess",
		"bulk-approve", "bulk-decline",
		"clear", "repair", "audit", "status", "stats", "publish",
	}

	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "command %s not registered", name)
	}
}

func TestRootUse(t *testing.T) {
	assert.Equal(t, "curator", rootCmd.Use)
}
