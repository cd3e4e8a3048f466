package schema

import (
	"fmt"
	"strings"
)

// Action is what a user asks to do with their data.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Permission codes understood by access checks. Any other code grants nothing.
const (
	PermissionReadWrite = "11"
	PermissionWriteOnly = "10"
)

// ParseAction accepts "read" or "write" in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionRead, ActionWrite:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q, want read or write", s)
}

// Allows reports whether the record's permission code grants action.
func (u User) Allows(action Action) bool {
	switch u.Permission {
	case PermissionReadWrite:
		return action == ActionRead || action == ActionWrite
	case PermissionWriteOnly:
		return action == ActionWrite
	}
	return false
}

// CheckAccess returns nil when u may perform action and a PERMISSION_DENIED
// error otherwise.
func (u User) CheckAccess(action Action) error {
	if u.Allows(action) {
		return nil
	}
	return Errorf(CodePermissionDenied, "Permission denied: user %s may not %s", u.UserID, action)
}
