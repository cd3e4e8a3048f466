package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// TxMeta describes who runs a transaction and what it is, for the audit trail.
type TxMeta struct {
	Actor  string
	Action string
}

// Ledger runs transactions against a Backend. Submit transactions on the same
// channel are serialized and their writes are applied only when the
// transaction function succeeds.
type Ledger struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	newTxID func() string
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTxIDs overrides transaction id generation.
func WithTxIDs(gen func() string) Option {
	return func(l *Ledger) { l.newTxID = gen }
}

// NewLedger wraps a backend. Transaction ids default to UUIDv7.
func NewLedger(b Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: b,
		locks:   make(map[string]*sync.Mutex),
		newTxID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Backend returns the underlying storage.
func (l *Ledger) Backend() Backend {
	return l.backend
}

func (l *Ledger) channelLock(channel string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[channel]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[channel] = lock
	}
	return lock
}

// Submit runs fn in a read-write transaction and returns its id.
func (l *Ledger) Submit(ctx context.Context, channel string, meta TxMeta, fn func(stub ledger.Stub) error) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lock := l.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	txID := l.newTxID()
	stub := newTxStub(l.backend, channel, false)
	if err := fn(stub); err != nil {
		return txID, err
	}
	// A transaction cancelled while running is discarded.
	if err := ctx.Err(); err != nil {
		return txID, err
	}

	writes := stub.pending()
	if len(writes) == 0 {
		return txID, nil
	}
	if err := l.backend.Apply(channel, writes); err != nil {
		return txID, fmt.Errorf("commit %s: %w", txID, err)
	}

	keys := make([]string, 0, len(writes))
	for _, w := range writes {
		keys = append(keys, w.Key)
	}
	slog.Debug("transaction committed", "tx_id", txID, "channel", channel, "action", meta.Action, "writes", len(writes))

	if err := l.audit(txID, channel, meta, keys); err != nil {
		slog.Error("audit write failed", "tx_id", txID, "error", err)
	}
	return txID, nil
}

// Evaluate runs fn in a read-only transaction.
func (l *Ledger) Evaluate(ctx context.Context, channel string, fn func(stub ledger.Stub) error) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newTxStub(l.backend, channel, true))
}

func auditKey(channel, txID string) string {
	return "audit~" + channel + "~" + txID
}

func (l *Ledger) audit(txID, channel string, meta TxMeta, keys []string) error {
	entry := schema.AuditLog{
		TxID:      txID,
		Timestamp: l.now().UTC(),
		Actor:     meta.Actor,
		Action:    meta.Action,
		ChannelID: channel,
		Keys:      keys,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.backend.Apply(SystemChannel, []Write{{Key: auditKey(channel, txID), Value: string(data)}})
}

// AuditTrail returns the committed transactions of a channel, oldest first
// when ids are time ordered.
func (l *Ledger) AuditTrail(channel string) ([]schema.AuditLog, error) {
	prefix := "audit~" + channel + "~"
	entries, err := l.backend.Range(SystemChannel, prefix, prefix+string(utf8.MaxRune))
	if err != nil {
		return nil, err
	}
	out := make([]schema.AuditLog, 0, len(entries))
	for _, kv := range entries {
		var entry schema.AuditLog
		if err := json.Unmarshal([]byte(kv.Value), &entry); err != nil {
			return nil, fmt.Errorf("audit entry %s: %w", kv.Key, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Channels lists user channels, excluding the system channel.
func (l *Ledger) Channels() ([]string, error) {
	all, err := l.backend.Channels()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, ch := range all {
		if ch != SystemChannel {
			out = append(out, ch)
		}
	}
	return out, nil
}

// txStub buffers writes and serves reads through them.
type txStub struct {
	backend  Backend
	channel  string
	readOnly bool
	writes   map[string]Write
}

func newTxStub(b Backend, channel string, readOnly bool) *txStub {
	return &txStub{backend: b, channel: channel, readOnly: readOnly, writes: make(map[string]Write)}
}

func (s *txStub) GetState(key string) (string, error) {
	if w, ok := s.writes[key]; ok {
		if w.Delete {
			return "", nil
		}
		return w.Value, nil
	}
	val, _, err := s.backend.Get(s.channel, key)
	return val, err
}

// PutState buffers a write. An empty value is stored as a delete.
func (s *txStub) PutState(key, value string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if key == "" {
		return ErrEmptyKey
	}
	s.writes[key] = Write{Key: key, Value: value, Delete: value == ""}
	return nil
}

func (s *txStub) DelState(key string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if key == "" {
		return ErrEmptyKey
	}
	s.writes[key] = Write{Key: key, Delete: true}
	return nil
}

func (s *txStub) GetStateByRange(start, end string) ([]ledger.KV, error) {
	committed, err := s.backend.Range(s.channel, start, end)
	if err != nil {
		return nil, err
	}
	if len(s.writes) == 0 {
		return committed, nil
	}

	merged := make(map[string]string, len(committed))
	for _, kv := range committed {
		merged[kv.Key] = kv.Value
	}
	for key, w := range s.writes {
		if !inRange(key, start, end) {
			continue
		}
		if w.Delete {
			delete(merged, key)
		} else {
			merged[key] = w.Value
		}
	}

	out := make([]ledger.KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, ledger.KV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// pending returns buffered writes sorted by key.
func (s *txStub) pending() []Write {
	out := make([]Write, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
