// Package secure keeps provider API keys encrypted at rest. A random
// 32-byte master key lives in its own owner-only file; the secrets
// themselves are a JSON map sealed with XChaCha20-Poly1305 under a key
// derived from it.
package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nugget/jarvis-core/internal/config"
)

const (
	keyFile     = "secret.key"
	secretsFile = "secrets.enc"
	keySize     = 32
)

// additional data bound to every sealed file; bump on format changes.
var aad = []byte("jarvis-secrets/v1")

var (
	// ErrNotFound is returned by Get and Delete for an unknown name.
	ErrNotFound = errors.New("secret not found")
	// ErrCorrupt means the secrets file failed authentication, usually
	// because the key file was replaced.
	ErrCorrupt = errors.New("secrets file cannot be decrypted")
)

// Store is an encrypted name/value store.
type Store struct {
	dir    string
	aead   cipher.AEAD
	logger *slog.Logger

	mu sync.Mutex
}

// Open returns the store kept in dir, creating the directory and the
// master key on first use.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	master, err := loadOrCreateKey(filepath.Join(dir, keyFile), logger)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, aad), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, aead: aead, logger: logger}, nil
}

func loadOrCreateKey(path string, logger *slog.Logger) ([]byte, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != keySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, have %d", path, keySize, len(key))
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := config.WriteFileAtomic(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	logger.Info("created secrets key", "path", path)
	return key, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, secretsFile) }

func (s *Store) load() (map[string]string, error) {
	sealed, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrCorrupt
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, ErrCorrupt
	}
	m := map[string]string{}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, nil
}

func (s *Store) save(m map[string]string) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	return config.WriteFileAtomic(s.path(), s.aead.Seal(nonce, nonce, plain, aad), 0o600)
}

// Set stores value under name, replacing any previous value.
func (s *Store) Set(name, value string) error {
	if name == "" {
		return errors.New("secret name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[name] = value
	if err := s.save(m); err != nil {
		return err
	}
	s.logger.Debug("secret stored", "name", name)
	return nil
}

// Get returns the value stored under name.
func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Delete removes name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m, name)
	return s.save(m)
}

// List returns the stored names, sorted. Values are not exposed.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names, nil
}
