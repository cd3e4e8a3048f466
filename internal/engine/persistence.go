package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-userman/internal/vault"
)

// Persistence writes channel snapshots for the MemStore.
// With a key set, snapshots are AES-GCM encrypted at rest.
type Persistence struct {
	DataDir string
	key     []byte
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler. key may be nil.
func NewPersistence(dir string, key []byte) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if key != nil && len(key) != vault.KeySize {
		return nil, fmt.Errorf("snapshot key must be %d bytes, got %d", vault.KeySize, len(key))
	}
	return &Persistence{DataDir: dir, key: key}, nil
}

func (p *Persistence) path(channel string) string {
	return filepath.Join(p.DataDir, channel+".json")
}

// SaveChannel writes a single channel's data atomically.
func (p *Persistence) SaveChannel(channel string, data map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := p.path(channel)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if p.key != nil {
		sealed, err := vault.Encrypt(string(bytes), p.key)
		if err != nil {
			return fmt.Errorf("encrypt snapshot: %w", err)
		}
		bytes = []byte(sealed)
	}

	// Write then rename: a crash leaves either the old file or the new one.
	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tempPath, filePath)
}

// LoadAll returns all channel data found in the data directory.
// Unreadable snapshots are skipped with a warning.
func (p *Persistence) LoadAll() (map[string]map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]string)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		channel := strings.TrimSuffix(name, ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			slog.Warn("could not read channel snapshot", "file", name, "error", err)
			continue
		}
		if p.key != nil {
			plain, err := vault.Decrypt(strings.TrimSpace(string(content)), p.key)
			if err != nil {
				slog.Warn("could not decrypt channel snapshot", "file", name, "error", err)
				continue
			}
			content = []byte(plain)
		}

		var channelData map[string]string
		if err := json.Unmarshal(content, &channelData); err != nil {
			slog.Warn("could not unmarshal channel snapshot", "file", name, "error", err)
			continue
		}
		allData[channel] = channelData
	}
	return allData, nil
}
