package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

const (
	stateKeyFileName = "state.key"
	stateKeySize     = 32 // SQLCipher raw key
)

// ErrStateKeyLost is returned when an encrypted state database exists but
// its key file does not. A fresh key could never open that database.
var ErrStateKeyLost = errors.New("state database exists but its key is missing")

// FileKeyProvider keeps the SQLCipher key of the state database in
// <data dir>/state.key, hex encoded the way the key is passed to
// PRAGMA key, readable only by the owning user. Both processes read the
// same file.
type FileKeyProvider struct {
	dataDir string
}

// NewFileKeyProvider creates the key provider of the state database in dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{dataDir: dataDir}
}

func (p *FileKeyProvider) keyPath() string {
	return filepath.Join(p.dataDir, stateKeyFileName)
}

// GetKey reads the state key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	data, err := os.ReadFile(p.keyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read state key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode state key: %w", err)
	}
	if len(key) != stateKeySize {
		return nil, fmt.Errorf("invalid state key size: got %d, want %d", len(key), stateKeySize)
	}
	return key, nil
}

// StoreKey writes the state key with 0600 permissions. The file is written
// to a temp file and renamed so the other process never reads half a key.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != stateKeySize {
		return fmt.Errorf("invalid state key size: got %d, want %d", len(key), stateKeySize)
	}
	if err := os.MkdirAll(p.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(p.dataDir, ".state-key-*")
	if err != nil {
		return fmt.Errorf("failed to write state key: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state key: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to protect state key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state key: %w", err)
	}
	if err := os.Rename(tmpPath, p.keyPath()); err != nil {
		return fmt.Errorf("failed to install state key: %w", err)
	}
	return nil
}

// KeyExists reports whether the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath())
	return err == nil
}

// StateExists reports whether the encrypted state database has been created.
func (p *FileKeyProvider) StateExists() bool {
	_, err := os.Stat(filepath.Join(p.dataDir, stateDBName))
	return err == nil
}

// GenerateKey creates a random SQLCipher key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, stateKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored state key, generating one for a data
// directory that has no state database yet.
func EnsureKey(provider *FileKeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	if provider.StateExists() {
		return nil, fmt.Errorf("failed to load key for %s: %w", provider.dataDir, ErrStateKeyLost)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenEncryptedState opens the encrypted state database of dataDir with its
// stored key, creating both on first use.
func OpenEncryptedState(dataDir string) (*EncryptedState, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, err
	}
	return NewEncryptedState(dataDir, key)
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
