package creds_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/creds"
)

func TestParseCombined(t *testing.T) {
	t.Run("nested", func(t *testing.T) {
		c, err := creds.ParseCombined([]byte(`{"vaults": {"/v/a.enc": {"password": "pw-a"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "pw-a", c.VaultPassword("/v/a.enc"))
		assert.Equal(t, "pw-a", c.VaultPassword("/v/../v/a.enc"))
		assert.Empty(t, c.VaultPassword("/v/b.enc"))
	})

	t.Run("flat", func(t *testing.T) {
		c, err := creds.ParseCombined([]byte(`{"/v/b.enc": "pw-b"}`))
		require.NoError(t, err)
		assert.Equal(t, "pw-b", c.VaultPassword("/v/b.enc"))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := creds.ParseCombined([]byte(`[1, 2]`))
		assert.Error(t, err)
	})
}

func TestLoadFromFile_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"/v/a.enc": "pw"}`), 0644))
	require.NoError(t, os.Chmod(path, 0644))

	_, err := creds.LoadFromFile(path)
	assert.Error(t, err)

	require.NoError(t, os.Chmod(path, 0600))
	c, err := creds.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pw", c.VaultPassword("/v/a.enc"))
}

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"/v/a.enc": "from-file"}`), 0600))

	t.Setenv(creds.EnvPassword, "")

	pw, err := creds.Lookup("/v/a.enc", path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", pw)

	pw, err = creds.Lookup("/v/a.enc", "")
	require.NoError(t, err)
	assert.Empty(t, pw)

	pw, err = creds.Lookup("/v/a.enc", filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, pw)

	t.Setenv(creds.EnvPassword, "from-env")
	pw, err = creds.Lookup("/v/a.enc", path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)
}
