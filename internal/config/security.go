package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// SecurityManager handles encryption and decryption of persisted tokens
type SecurityManager interface {
	// EncryptCredential encrypts a token for storage
	EncryptCredential(plaintext string) (string, error)

	// DecryptCredential decrypts a stored token
	DecryptCredential(ciphertext string) (string, error)
}

const (
	saltSize         = 32
	pbkdf2Iterations = 100000
	keySize          = 32
)

// AESSecurityManager implements SecurityManager using AES-256-GCM with a key
// derived from a per-machine passphrase and a random salt kept on disk.
type AESSecurityManager struct {
	keyPath   string
	masterKey []byte
}

// NewSecurityManager creates a security manager whose salt lives at keyPath.
// An empty keyPath selects the XDG data directory.
func NewSecurityManager(keyPath string) (*AESSecurityManager, error) {
	if keyPath == "" {
		var err error
		keyPath, err = defaultKeyPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine security key path: %w", err)
		}
	}

	s := &AESSecurityManager{keyPath: keyPath}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create security directory: %w", err)
	}
	if err := s.initializeEncryptionKey(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption key: %w", err)
	}
	return s, nil
}

func defaultKeyPath() (string, error) {
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, appName, "security", "master.key"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", appName, "security", "master.key"), nil
}

func (s *AESSecurityManager) initializeEncryptionKey() error {
	keyData, err := os.ReadFile(s.keyPath)
	if os.IsNotExist(err) {
		return s.generateKey()
	}
	if err != nil {
		return fmt.Errorf("failed to read master key file: %w", err)
	}

	salt, err := hex.DecodeString(string(keyData))
	if err != nil || len(salt) != saltSize {
		return fmt.Errorf("master key file %s is corrupt", s.keyPath)
	}
	s.masterKey = deriveKey(salt)
	return nil
}

func (s *AESSecurityManager) generateKey() error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate random salt: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return fmt.Errorf("failed to write key material: %w", err)
	}
	s.masterKey = deriveKey(salt)
	return nil
}

func deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(machinePassphrase()), salt, pbkdf2Iterations, keySize, sha256.New)
}

// machinePassphrase ties the key to this host and user.
func machinePassphrase() string {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	return fmt.Sprintf("%s-security-%s-%s", appName, hostname, username)
}

func (s *AESSecurityManager) gcm() (cipher.AEAD, error) {
	if s.masterKey == nil {
		return nil, fmt.Errorf("encryption key not available")
	}
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredential encrypts plaintext and returns it base64 encoded with the
// nonce prepended.
func (s *AESSecurityManager) EncryptCredential(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential reverses EncryptCredential.
func (s *AESSecurityManager) DecryptCredential(ciphertext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ClearSecurityData wipes the in-memory key and removes the key file. Tokens
// encrypted with the old key can no longer be read.
func (s *AESSecurityManager) ClearSecurityData() error {
	for i := range s.masterKey {
		s.masterKey[i] = 0
	}
	s.masterKey = nil

	if err := os.Remove(s.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove security key file: %w", err)
	}
	return nil
}
