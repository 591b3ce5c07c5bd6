package main

import (
	"testing"

	"github.com/goliatone/go-auth-rbac/config"
	"github.com/goliatone/go-auth-rbac/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	cmd := rootCmd()

	for _, name := range []string{"serve", "migrate", "prune", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, ".", flag.DefValue)
}

func TestNewSender(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &notify.LogSender{}, newSender(cfg, nil))

	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "noreply@example.com"
	assert.IsType(t, &notify.SMTPSender{}, newSender(cfg, nil))
}
