package engine

import "fmt"

// Migrate copies every channel from src into dst. It works between any two
// backends, e.g. memory snapshots into SQLite or SQLite into Postgres.
func Migrate(src Backend, dst Backend) (int, error) {
	channels, err := src.Channels()
	if err != nil {
		return 0, fmt.Errorf("failed to list channels: %w", err)
	}

	copied := 0
	for _, channel := range channels {
		entries, err := src.Range(channel, "", "")
		if err != nil {
			return copied, fmt.Errorf("failed to dump channel %s: %w", channel, err)
		}
		if len(entries) == 0 {
			continue
		}

		writes := make([]Write, 0, len(entries))
		for _, kv := range entries {
			writes = append(writes, Write{Key: kv.Key, Value: kv.Value})
		}
		if err := dst.Apply(channel, writes); err != nil {
			return copied, fmt.Errorf("failed to write channel %s: %w", channel, err)
		}
		copied += len(writes)
	}
	return copied, nil
}
