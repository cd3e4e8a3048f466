package engine

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/celerix-dev/celerix-userman/pkg/ledger"
)

// Ensure MemStore satisfies Backend at compile time.
var _ Backend = (*MemStore)(nil)

// MemStore is the thread-safe in-memory backend.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [channelID][key]value
	data      map[string]map[string]string
	persister *Persistence
	wg        sync.WaitGroup
	saveMu    sync.Mutex
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and an optional persister.
func NewMemStore(initialData map[string]map[string]string, p *Persistence) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]string)
	}
	return &MemStore{
		data:      initialData,
		persister: p,
	}
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close flushes pending snapshots.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

func (m *MemStore) Get(channel, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.data[channel][key]
	return val, ok, nil
}

func (m *MemStore) Apply(channel string, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	m.mu.Lock()
	if m.data[channel] == nil {
		m.data[channel] = make(map[string]string)
	}
	ch := m.data[channel]
	for _, w := range writes {
		if w.Delete {
			delete(ch, w.Key)
		} else {
			ch[w.Key] = w.Value
		}
	}
	m.mu.Unlock()

	if m.persister != nil {
		m.wg.Add(1)
		go func(channel string) {
			defer m.wg.Done()
			// The snapshot is taken under saveMu, so the last save to run
			// always sees the latest state of the channel.
			m.saveMu.Lock()
			defer m.saveMu.Unlock()

			m.mu.RLock()
			data := m.copyChannel(channel)
			m.mu.RUnlock()

			if err := m.persister.SaveChannel(channel, data); err != nil {
				slog.Error("persist channel failed", "channel", channel, "error", err)
			}
		}(channel)
	}
	return nil
}

// copyChannel creates a copy of a channel's data.
// It MUST be called while holding m.mu.
func (m *MemStore) copyChannel(channel string) map[string]string {
	src := m.data[channel]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (m *MemStore) Range(channel, start, end string) ([]ledger.KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.KV
	for k, v := range m.data[channel] {
		if inRange(k, start, end) {
			out = append(out, ledger.KV{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) Channels() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for id := range m.data {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}
