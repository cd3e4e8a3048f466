package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Memory use is about 128 * N * r bytes.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1

	// SaltSize is the length of the random salt stored next to the snapshots.
	SaltSize = 16
	// SaltFile is the salt's file name inside the data directory.
	SaltFile = "vault.salt"
)

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes, got %d", SaltSize, len(salt))
	}
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeySize)
}

// LoadOrCreateSalt returns the salt stored in dir, creating it on first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, SaltFile)

	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("%s: expected %d bytes, got %d", path, SaltSize, len(salt))
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, err
	}
	return salt, nil
}

// PassphraseKey derives the snapshot key for dir from passphrase.
func PassphraseKey(dir, passphrase string) ([]byte, error) {
	salt, err := LoadOrCreateSalt(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot salt: %w", err)
	}
	return DeriveKey(passphrase, salt)
}
