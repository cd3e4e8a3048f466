package sdk

import "github.com/celerix-dev/celerix-userman/pkg/schema"

// --- Functional Interfaces (Interface Segregation) ---

// UserReader defines the read-only transactions.
type UserReader interface {
	GetUser(channelID, userID string) (schema.User, error)
	UserExists(channelID, userID string) (bool, error)
	GetUserPermission(channelID, userID string) (string, error)
	GetAllUsers(channelID string) ([]schema.User, error)
	CheckAccess(channelID, userID string, action schema.Action) error
}

// UserWriter defines the transactions gated on the caller's identity.
type UserWriter interface {
	InitLedger(channelID string) (schema.User, error)
	AddNewUser(channelID string, user schema.User) (schema.User, error)
	UpdateUser(channelID, userID, newPermission string) (schema.User, error)
	DeleteUser(channelID, userID string) error
}

// ChannelEnumeration allows discovering channels.
type ChannelEnumeration interface {
	Channels() ([]string, error)
}

// --- Composite Interfaces ---

// UserService is implemented by both the embedded gateway session and the
// remote Client.
type UserService interface {
	UserReader
	UserWriter
	ChannelEnumeration
	Close() error
}

// ChannelScope "pins" a channel so callers only pass record arguments.
type ChannelScope interface {
	InitLedger() (schema.User, error)
	AddNewUser(user schema.User) (schema.User, error)
	GetUser(userID string) (schema.User, error)
	UpdateUser(userID, newPermission string) (schema.User, error)
	DeleteUser(userID string) error
	UserExists(userID string) (bool, error)
	GetUserPermission(userID string) (string, error)
	GetAllUsers() ([]schema.User, error)
	CheckAccess(userID string, action schema.Action) error
}

// Channel returns a ChannelScope for channelID on any UserService.
func Channel(s UserService, channelID string) ChannelScope {
	return &channelScope{svc: s, channelID: channelID}
}

type channelScope struct {
	svc       UserService
	channelID string
}

func (c *channelScope) InitLedger() (schema.User, error) { return c.svc.InitLedger(c.channelID) }
func (c *channelScope) AddNewUser(u schema.User) (schema.User, error) {
	return c.svc.AddNewUser(c.channelID, u)
}
func (c *channelScope) GetUser(userID string) (schema.User, error) {
	return c.svc.GetUser(c.channelID, userID)
}
func (c *channelScope) UpdateUser(userID, newPermission string) (schema.User, error) {
	return c.svc.UpdateUser(c.channelID, userID, newPermission)
}
func (c *channelScope) DeleteUser(userID string) error { return c.svc.DeleteUser(c.channelID, userID) }
func (c *channelScope) UserExists(userID string) (bool, error) {
	return c.svc.UserExists(c.channelID, userID)
}
func (c *channelScope) GetUserPermission(userID string) (string, error) {
	return c.svc.GetUserPermission(c.channelID, userID)
}
func (c *channelScope) GetAllUsers() ([]schema.User, error) { return c.svc.GetAllUsers(c.channelID) }
func (c *channelScope) CheckAccess(userID string, action schema.Action) error {
	return c.svc.CheckAccess(c.channelID, userID, action)
}
