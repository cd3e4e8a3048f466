package sdk

import (
	"context"
	"os"

	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/internal/contract"
	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/internal/gateway"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
)

// Credentials identify the caller. Token is sent to a remote daemon;
// Username is the identity used in embedded mode, where the process owns
// the ledger files and no token is verified.
type Credentials struct {
	Token    string
	Username string
}

// New initializes the service based on the environment.
// It returns the interface, so the app doesn't care if it's local or remote.
func New(dataDir string, cred Credentials) (UserService, error) {
	if remoteAddr := os.Getenv("CELERIX_STORE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr, cred.Token)
		if err == nil {
			return client, nil
		}
		// Fall through to embedded mode when the daemon is unreachable.
	}

	return NewEmbedded(dataDir, cred.Username)
}

// NewEmbedded opens the snapshot files under dataDir and serves the contract
// in-process, acting as username.
func NewEmbedded(dataDir, username string) (UserService, error) {
	p, err := engine.NewPersistence(dataDir, nil)
	if err != nil {
		return nil, err
	}

	allData, err := p.LoadAll()
	if err != nil {
		return nil, err
	}

	store := engine.NewMemStore(allData, p)
	gw := gateway.New(engine.NewLedger(store), contract.New())

	var id ledger.Identity = auth.Anonymous
	if username != "" {
		id = ledger.Attributes{contract.UsernameAttribute: username}
	}
	return &embedded{Session: gw.Session(context.Background(), id), store: store}, nil
}

// embedded flushes pending snapshots on Close.
type embedded struct {
	*gateway.Session
	store *engine.MemStore
}

func (e *embedded) Close() error {
	return e.store.Close()
}
