// Package secrets loads database and CSMS mTLS material from Vault when
// enabled, falling back to the static config values otherwise.
package secrets

import (
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Manager reads secret material from a Vault KV mount.
type Manager struct {
	client *api.Client
	log    *zap.Logger
}

// NewManager dials Vault at address using token.
func NewManager(address, token string, log *zap.Logger) (*Manager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(token)

	return &Manager{client: client, log: log}, nil
}

// ReadString reads a single string field from a KV v2 secret at path.
func (m *Manager) ReadString(path, field string) (string, error) {
	secret, err := m.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: no secret at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault: unexpected shape at %s", path)
	}
	value, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("vault: field %q missing at %s", field, path)
	}
	return value, nil
}

// DatabaseDSN resolves a Postgres DSN from Vault at secretPath, logging
// and falling back to fallback if Vault is unreachable or the secret is
// absent (Vault is an optional hardening layer, never a hard dependency).
func (m *Manager) DatabaseDSN(secretPath, fallback string) string {
	dsn, err := m.ReadString(secretPath, "connection_string")
	if err != nil {
		m.log.Warn("falling back to static database DSN", zap.Error(err))
		return fallback
	}
	return dsn
}

// TLSMaterial resolves a PEM-encoded cert/key pair from Vault at
// secretPath. When Vault can't supply either field it returns the error;
// it does not fall back to any static config value.
func (m *Manager) TLSMaterial(secretPath string) (cert, key string, err error) {
	cert, err = m.ReadString(secretPath, "cert")
	if err != nil {
		return "", "", err
	}
	key, err = m.ReadString(secretPath, "key")
	if err != nil {
		return "", "", err
	}
	return cert, key, nil
}
