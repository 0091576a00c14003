package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/models"
)

func TestVaultRecord_Apply(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := models.NewVaultRecord("/tmp/vault.enc")

	require.NoError(t, r.Apply(models.EventUnlockFailed, now))
	require.NoError(t, r.Apply(models.EventUnlockFailed, now))
	assert.Equal(t, 2, r.FailedUnlocks)

	require.NoError(t, r.Apply(models.EventUnlocked, now))
	assert.Equal(t, 0, r.FailedUnlocks)
	assert.Equal(t, now, r.LastUnlocked)
	assert.Equal(t, now, r.LastOpened)

	later := now.Add(time.Hour)
	require.NoError(t, r.Apply(models.EventOpened, later))
	require.NoError(t, r.Apply(models.EventBackedUp, later))
	assert.Equal(t, later, r.LastOpened)
	assert.Equal(t, later, r.LastBackup)

	assert.Error(t, r.Apply(models.VaultEvent("bogus"), now))
}

func TestVaultRecord_Validate(t *testing.T) {
	assert.NoError(t, models.NewVaultRecord("/a").Validate())
	assert.Error(t, models.NewVaultRecord(" ").Validate())
	assert.Error(t, (&models.VaultRecord{Path: "/a", FailedUnlocks: -1}).Validate())
}

func TestVaultRecord_Clone(t *testing.T) {
	r := models.NewVaultRecord("/a")
	c := r.Clone()
	c.FailedUnlocks = 3
	assert.Equal(t, 0, r.FailedUnlocks)
}
