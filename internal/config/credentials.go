package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "shiplift"

	// KeyringTokenItem is the per-forge key for the API token
	KeyringTokenItem = "forge-token"
)

// CredentialStore handles forge token storage in the OS keychain.
// macOS uses Keychain, Windows the Credential Manager, Linux Secret Service.
type CredentialStore struct {
	logger *logrus.Entry
}

// NewCredentialStore creates a credential store.
func NewCredentialStore(logger *logrus.Logger) *CredentialStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CredentialStore{logger: logger.WithField("component", "credentials")}
}

func tokenKey(forgeType string) string {
	return KeyringTokenItem + ":" + forgeType
}

// SaveToken stores the forge token in the OS keychain.
func (s *CredentialStore) SaveToken(forgeType, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := keyring.Set(KeyringService, tokenKey(forgeType), token); err != nil {
		return fmt.Errorf("save token to OS keychain: %w", err)
	}
	s.logger.WithField("forge", forgeType).Info("token saved to keychain")
	return nil
}

// Token retrieves the forge token from the OS keychain. A missing entry is
// reported as ok=false, not an error.
func (s *CredentialStore) Token(forgeType string) (string, bool, error) {
	token, err := keyring.Get(KeyringService, tokenKey(forgeType))
	if err == keyring.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read token from OS keychain: %w", err)
	}
	return token, true, nil
}

// DeleteToken removes the forge token from the OS keychain.
func (s *CredentialStore) DeleteToken(forgeType string) error {
	err := keyring.Delete(KeyringService, tokenKey(forgeType))
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}

// ResolveToken fills cfg.Forge.Token when empty: keychain first, then an
// interactive prompt when attached to a terminal.
func (s *CredentialStore) ResolveToken(cfg *Config) error {
	if cfg.Forge.Token != "" {
		return nil
	}

	token, ok, err := s.Token(cfg.Forge.Type)
	if err != nil {
		s.logger.WithError(err).Warn("keychain lookup failed")
	}
	if ok {
		cfg.Forge.Token = token
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no forge token configured; set SHIPLIFT_TOKEN or run `shiplift login`")
	}

	fmt.Fprintf(os.Stderr, "Enter %s token: ", cfg.Forge.Type)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	cfg.Forge.Token = strings.TrimSpace(string(raw))
	if cfg.Forge.Token == "" {
		return fmt.Errorf("no token provided")
	}
	return nil
}
