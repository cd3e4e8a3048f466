package contract

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// Intent tells the host whether a transaction may write.
type Intent int

const (
	Evaluate Intent = iota
	Submit
)

func (i Intent) String() string {
	if i == Submit {
		return "submit"
	}
	return "evaluate"
}

var (
	// ErrUndefinedTransaction is returned for an unknown transaction name.
	ErrUndefinedTransaction = errors.New("undefined contract method called")
	// ErrArgumentCount is returned when the argument count does not match.
	ErrArgumentCount = errors.New("wrong number of arguments")
)

type transaction struct {
	intent Intent
	arity  int
	call   func(c *UserManagement, ctx ledger.TxContext, args []string) (string, error)
}

var transactions = map[string]transaction{
	"InitLedger": {Submit, 0, func(c *UserManagement, ctx ledger.TxContext, _ []string) (string, error) {
		return encoded(c.InitLedger(ctx))
	}},
	"AddNewUser": {Submit, 5, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		return encoded(c.AddNewUser(ctx, a[0], a[1], a[2], a[3], a[4]))
	}},
	"GetUser": {Evaluate, 1, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		return encoded(c.GetUser(ctx, a[0]))
	}},
	"UpdateUser": {Submit, 2, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		return encoded(c.UpdateUser(ctx, a[0], a[1]))
	}},
	"DeleteUser": {Submit, 1, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		return "", c.DeleteUser(ctx, a[0])
	}},
	"UserExists": {Evaluate, 1, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		ok, err := c.UserExists(ctx, a[0])
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(ok), nil
	}},
	"GetUserPermission": {Evaluate, 1, func(c *UserManagement, ctx ledger.TxContext, a []string) (string, error) {
		return c.GetUserPermission(ctx, a[0])
	}},
	"GetAllUsers": {Evaluate, 0, func(c *UserManagement, ctx ledger.TxContext, _ []string) (string, error) {
		users, err := c.GetAllUsers(ctx)
		if err != nil {
			return "", err
		}
		data, err := schema.EncodeList(users)
		return string(data), err
	}},
}

// Transactions lists the transaction names in sorted order.
func Transactions() []string {
	names := make([]string, 0, len(transactions))
	for name := range transactions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IntentOf reports the intent of a named transaction.
func IntentOf(fn string) (Intent, error) {
	tx, ok := transactions[fn]
	if !ok {
		return Evaluate, fmt.Errorf("%w: %s", ErrUndefinedTransaction, fn)
	}
	return tx.intent, nil
}

// Invoke runs a transaction by name with string arguments and returns its
// string result: canonical record JSON, a JSON array, "true"/"false", a
// permission code, or "" for DeleteUser.
func (c *UserManagement) Invoke(ctx ledger.TxContext, fn string, args []string) (string, error) {
	tx, ok := transactions[fn]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUndefinedTransaction, fn)
	}
	if len(args) != tx.arity {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, fn, tx.arity, len(args))
	}
	return tx.call(c, ctx, args)
}

func encoded(user schema.User, err error) (string, error) {
	if err != nil {
		return "", err
	}
	data, err := schema.Encode(user)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
