package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Secret names in the secrets file.
const (
	SecretAPIToken     = "api_token"
	SecretWebhookToken = "webhook_token"
)

// ErrSecretNotFound is returned when a secret is absent from the store.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain stores secrets outside the plain config file.
type Keychain interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// NewKeychain returns the secrets file keychain under $XDG_DATA_HOME.
func NewKeychain() Keychain {
	return &secretsFile{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// secretsFile keeps secrets as a flat JSON object readable only by the owner.
type secretsFile struct {
	mu   sync.Mutex
	path string
}

func (s *secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s *secretsFile) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := secrets[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return v, nil
}

func (s *secretsFile) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if err != nil {
		return err
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

// GetAPIToken returns the API bearer token, generating and storing one on
// first use. VITALSIGNAL_API_TOKEN takes precedence.
func GetAPIToken(kc Keychain) (string, error) {
	if v := os.Getenv(envPrefix + "API_TOKEN"); v != "" {
		return v, nil
	}
	tok, err := kc.Get(SecretAPIToken)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := kc.Set(SecretAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
