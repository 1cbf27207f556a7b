package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// Enabled reports whether a vault server is reachable from the environment.
// The binaries mount the module only when it is; config loading then reads
// database, redis and flagsmith secrets from vault instead of the yaml file.
func Enabled() bool {
	return os.Getenv("VAULT_ADDR") != ""
}

// ProvideVault builds the client from VAULT_ADDR/VAULT_TOKEN and friends.
func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
