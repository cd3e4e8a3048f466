// Package contract implements user management on top of a transactional
// key-value ledger: every mutation is gated on the caller's identity.
package contract

import (
	"fmt"
	"log/slog"

	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// UsernameAttribute is the identity attribute compared against the channel id.
const UsernameAttribute = "username"

// SeedUser is the record written by InitLedger.
var SeedUser = schema.NewUser("user1", "Alice", "11", "Owner", "KhoHong")

// UserManagement is stateless; one value can serve any number of channels.
type UserManagement struct {
	Logger *slog.Logger
}

// New returns a contract that logs through slog.Default.
func New() *UserManagement {
	return &UserManagement{}
}

func (c *UserManagement) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// reject logs and returns a domain error.
func (c *UserManagement) reject(op, userID string, code schema.ErrorCode, format string, args ...any) error {
	err := schema.Errorf(code, format, args...)
	c.log().Info("transaction rejected", "op", op, "user_id", userID, "code", string(code), "message", err.Message)
	return err
}

// InitLedger writes the seed record.
func (c *UserManagement) InitLedger(ctx ledger.TxContext) (schema.User, error) {
	return c.AddNewUser(ctx, SeedUser.UserID, SeedUser.Name, SeedUser.Permission, SeedUser.Position, SeedUser.Description)
}

// AddNewUser creates a record under userID. An occupied key is reported
// before the identity check.
func (c *UserManagement) AddNewUser(ctx ledger.TxContext, userID, name, permission, position, description string) (schema.User, error) {
	exists, err := c.UserExists(ctx, userID)
	if err != nil {
		return schema.User{}, err
	}
	if exists {
		return schema.User{}, c.reject("AddNewUser", userID, schema.CodeUserAlreadyExists, "User %s already exists", userID)
	}
	if !authorized(ctx) {
		return schema.User{}, c.reject("AddNewUser", userID, schema.CodePermissionDenied, "Permission denied for user %s", name)
	}

	user := schema.NewUser(userID, name, permission, position, description)
	if err := putUser(ctx.Stub(), user); err != nil {
		return schema.User{}, err
	}
	return user, nil
}

// GetUser returns the record stored under userID.
func (c *UserManagement) GetUser(ctx ledger.TxContext, userID string) (schema.User, error) {
	data, err := ctx.Stub().GetState(userID)
	if err != nil {
		return schema.User{}, fmt.Errorf("read %s: %w", userID, err)
	}
	if data == "" {
		return schema.User{}, c.reject("GetUser", userID, schema.CodeUserNotFound, "User %s does not exist", userID)
	}
	return schema.Decode([]byte(data))
}

// UpdateUser replaces the stored record with one carrying newPermission.
func (c *UserManagement) UpdateUser(ctx ledger.TxContext, userID, newPermission string) (schema.User, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return schema.User{}, err
	}
	if !authorized(ctx) {
		return schema.User{}, c.reject("UpdateUser", userID, schema.CodePermissionDenied, "Permission denied for user %s", user.Name)
	}

	updated := user.WithPermission(newPermission)
	if err := putUser(ctx.Stub(), updated); err != nil {
		return schema.User{}, err
	}
	return updated, nil
}

// DeleteUser removes the record stored under userID.
func (c *UserManagement) DeleteUser(ctx ledger.TxContext, userID string) error {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !authorized(ctx) {
		return c.reject("DeleteUser", userID, schema.CodePermissionDenied, "Permission denied for user %s", user.Name)
	}
	if err := ctx.Stub().DelState(userID); err != nil {
		return fmt.Errorf("delete %s: %w", userID, err)
	}
	return nil
}

// UserExists reports whether a non-empty value is stored under userID.
// Only ledger failures produce an error.
func (c *UserManagement) UserExists(ctx ledger.TxContext, userID string) (bool, error) {
	data, err := ctx.Stub().GetState(userID)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", userID, err)
	}
	return data != "", nil
}

// GetUserPermission returns the permission code of the stored record.
func (c *UserManagement) GetUserPermission(ctx ledger.TxContext, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Permission, nil
}

// GetAllUsers scans the whole channel in key order.
func (c *UserManagement) GetAllUsers(ctx ledger.TxContext) ([]schema.User, error) {
	entries, err := ctx.Stub().GetStateByRange("", "")
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	users := make([]schema.User, 0, len(entries))
	for _, kv := range entries {
		if kv.Value == "" {
			continue
		}
		user, err := schema.Decode([]byte(kv.Value))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", kv.Key, err)
		}
		users = append(users, user)
	}
	return users, nil
}

// authorized compares the caller's username attribute with the channel id.
// A missing identity or attribute never matches.
func authorized(ctx ledger.TxContext) bool {
	id := ctx.ClientIdentity()
	if id == nil {
		return false
	}
	username, ok := id.GetAttributeValue(UsernameAttribute)
	return ok && username == ctx.ChannelID()
}

func putUser(stub ledger.Stub, user schema.User) error {
	data, err := schema.Encode(user)
	if err != nil {
		return fmt.Errorf("encode %s: %w", user.UserID, err)
	}
	if err := stub.PutState(user.UserID, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", user.UserID, err)
	}
	return nil
}
