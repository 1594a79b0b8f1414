package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandMetadata(t *testing.T) {
	assert.Equal(t, "leadextract", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "sweep", "migrate", "transcript", "usage-report", "seed"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestServeCommandFlags(t *testing.T) {
	assert.NotNil(t, serveCmd.Flags().Lookup("port"))
	assert.NotNil(t, sweepCmd.Flags().Lookup("cron"))
	assert.NotNil(t, transcriptCmd.Flags().Lookup("limit"))
	assert.NotNil(t, usageReportCmd.Flags().Lookup("month"))
}
