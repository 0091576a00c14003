package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/client"
	"github.com/TheMichaelB/keyvault/internal/models"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	path := filepath.Join(dir, "keyvault.json")
	data := fmt.Sprintf(`{
  "vault": {"path": %q},
  "backup": {"dir": %q},
  "state": {"backend": "sqlite", "dir": %q},
  "log": {"level": "error", "color": false}
}`, filepath.Join(dir, "vault.enc"), filepath.Join(dir, "backups"), filepath.Join(dir, "state"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func TestRun_ClosesClientOnError(t *testing.T) {
	var captured *client.Client
	failing := &cobra.Command{
		Use: "fail-after-setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			captured = apiClient
			return errors.New("command failed")
		},
	}
	rootCmd.AddCommand(failing)
	t.Cleanup(func() { rootCmd.RemoveCommand(failing) })

	err := run([]string{"--config", writeTestConfig(t), "fail-after-setup"})
	require.EqualError(t, err, "command failed")

	require.NotNil(t, captured)
	assert.Nil(t, apiClient)

	// The registry database is closed
	_, err = captured.Recent.List(0)
	assert.Error(t, err)
}

func TestRun_MissingVault(t *testing.T) {
	err := run([]string{"--config", writeTestConfig(t), "get", "GitHub"})
	assert.ErrorIs(t, err, models.ErrVaultNotFound)
	assert.Nil(t, apiClient)
}

func TestCloseClient_NoClient(t *testing.T) {
	apiClient = nil
	assert.NotPanics(t, closeClient)
}
