// Package ledger defines the capabilities a hosting ledger hands to the
// contract for the duration of one transaction.
package ledger

// KV is a single ledger entry returned by a range scan.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Stub is the transaction-scoped view of the key-value ledger.
// An empty value and an absent key are the same thing.
type Stub interface {
	GetState(key string) (string, error)
	PutState(key, value string) error
	DelState(key string) error
	// GetStateByRange returns entries with start <= key < end in lexical
	// order. Empty bounds are open.
	GetStateByRange(start, end string) ([]KV, error)
}

// Identity exposes the attributes of the invoking client.
type Identity interface {
	// GetAttributeValue returns the attribute and whether it was present.
	GetAttributeValue(name string) (string, bool)
}

// TxContext is the capability bundle passed to every contract operation.
type TxContext interface {
	Stub() Stub
	ClientIdentity() Identity
	ChannelID() string
}

// Context is the plain TxContext implementation.
type Context struct {
	LedgerStub Stub
	Client     Identity
	Channel    string
}

func (c Context) Stub() Stub               { return c.LedgerStub }
func (c Context) ClientIdentity() Identity { return c.Client }
func (c Context) ChannelID() string        { return c.Channel }

// Attributes is a static Identity backed by a map. A nil map has no attributes.
type Attributes map[string]string

func (a Attributes) GetAttributeValue(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}
