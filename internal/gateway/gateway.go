// Package gateway is the hosting side of the contract: it opens one ledger
// transaction per call, binds the caller's identity and channel, and routes
// the call by transaction name.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/celerix-dev/celerix-userman/internal/contract"
	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// Gateway runs contract transactions on a ledger.
type Gateway struct {
	ledger   *engine.Ledger
	contract *contract.UserManagement
}

// New binds a contract to a ledger.
func New(l *engine.Ledger, c *contract.UserManagement) *Gateway {
	return &Gateway{ledger: l, contract: c}
}

// Ledger returns the underlying ledger.
func (g *Gateway) Ledger() *engine.Ledger {
	return g.ledger
}

// Invoke runs the named transaction for id on channel. Submit transactions
// commit only when the contract succeeds.
func (g *Gateway) Invoke(ctx context.Context, channel string, id ledger.Identity, fn string, args []string) (string, error) {
	intent, err := contract.IntentOf(fn)
	if err != nil {
		return "", err
	}

	var out string
	run := func(stub ledger.Stub) error {
		var err error
		out, err = g.contract.Invoke(ledger.Context{LedgerStub: stub, Client: id, Channel: channel}, fn, args)
		return err
	}

	if intent == contract.Submit {
		_, err = g.ledger.Submit(ctx, channel, engine.TxMeta{Actor: actor(id), Action: fn}, run)
	} else {
		err = g.ledger.Evaluate(ctx, channel, run)
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

// CheckAccess resolves userID on channel and reports whether its permission
// code grants action. It is read-only: a missing record is USER_NOT_FOUND and
// a refusal is PERMISSION_DENIED.
func (g *Gateway) CheckAccess(ctx context.Context, channel string, id ledger.Identity, userID string, action schema.Action) error {
	out, err := g.Invoke(ctx, channel, id, "GetUser", []string{userID})
	if err != nil {
		return err
	}
	u, err := schema.Decode([]byte(out))
	if err != nil {
		return err
	}
	return u.CheckAccess(action)
}

// Channels lists the channels that hold data.
func (g *Gateway) Channels() ([]string, error) {
	return g.ledger.Channels()
}

// AuditTrail lists committed transactions on a channel.
func (g *Gateway) AuditTrail(channel string) ([]schema.AuditLog, error) {
	if err := engine.ValidateChannel(channel); err != nil {
		return nil, err
	}
	return g.ledger.AuditTrail(channel)
}

func actor(id ledger.Identity) string {
	if id == nil {
		return ""
	}
	name, _ := id.GetAttributeValue(contract.UsernameAttribute)
	return name
}

// Session is a typed client bound to one identity.
type Session struct {
	gw  *Gateway
	ctx context.Context
	id  ledger.Identity
}

// Session returns a typed client acting as id.
func (g *Gateway) Session(ctx context.Context, id ledger.Identity) *Session {
	return &Session{gw: g, ctx: ctx, id: id}
}

func (s *Session) invoke(channel, fn string, args ...string) (string, error) {
	return s.gw.Invoke(s.ctx, channel, s.id, fn, args)
}

func (s *Session) invokeUser(channel, fn string, args ...string) (schema.User, error) {
	out, err := s.invoke(channel, fn, args...)
	if err != nil {
		return schema.User{}, err
	}
	return schema.Decode([]byte(out))
}

func (s *Session) InitLedger(channel string) (schema.User, error) {
	return s.invokeUser(channel, "InitLedger")
}

func (s *Session) AddNewUser(channel string, u schema.User) (schema.User, error) {
	return s.invokeUser(channel, "AddNewUser", u.UserID, u.Name, u.Permission, u.Position, u.Description)
}

func (s *Session) GetUser(channel, userID string) (schema.User, error) {
	return s.invokeUser(channel, "GetUser", userID)
}

func (s *Session) UpdateUser(channel, userID, newPermission string) (schema.User, error) {
	return s.invokeUser(channel, "UpdateUser", userID, newPermission)
}

func (s *Session) DeleteUser(channel, userID string) error {
	_, err := s.invoke(channel, "DeleteUser", userID)
	return err
}

func (s *Session) UserExists(channel, userID string) (bool, error) {
	out, err := s.invoke(channel, "UserExists", userID)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(out)
}

func (s *Session) GetUserPermission(channel, userID string) (string, error) {
	return s.invoke(channel, "GetUserPermission", userID)
}

func (s *Session) GetAllUsers(channel string) ([]schema.User, error) {
	out, err := s.invoke(channel, "GetAllUsers")
	if err != nil {
		return nil, err
	}
	return schema.DecodeList([]byte(out))
}

func (s *Session) CheckAccess(channel, userID string, action schema.Action) error {
	return s.gw.CheckAccess(s.ctx, channel, s.id, userID, action)
}

func (s *Session) Channels() ([]string, error) {
	return s.gw.Channels()
}

// Close is a no-op; the ledger outlives sessions.
func (s *Session) Close() error {
	return nil
}

// DecodeArgs parses a JSON array of strings, the argument form used by the
// text transports.
func DecodeArgs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON array of strings: %w", err)
	}
	return args, nil
}
