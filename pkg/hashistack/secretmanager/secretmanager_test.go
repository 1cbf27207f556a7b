package secretmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnabledFollowsEnvironment(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	require.False(t, Enabled())

	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	require.True(t, Enabled())
}

func TestProvideVaultUsesEnvironment(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")

	client, err := ProvideVault()
	require.NoError(t, err)
	require.NotNil(t, client)
}
