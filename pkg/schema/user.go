// Package schema defines the record types and wire contract shared by the
// ledger, the contract and every client of the user management service.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// User is a single user record as stored on the ledger.
// Field order matters: it is the canonical key order on the wire.
type User struct {
	Description string `json:"description"`
	Name        string `json:"name"`
	Permission  string `json:"permission"`
	Position    string `json:"position"`
	UserID      string `json:"userID"`
}

// NewUser builds a record. The id is not validated here; callers supply it.
func NewUser(userID, name, permission, position, description string) User {
	return User{
		UserID:      userID,
		Name:        name,
		Permission:  permission,
		Position:    position,
		Description: description,
	}
}

// Equal reports whether all five fields match.
func (u User) Equal(other User) bool {
	return u == other
}

// WithPermission returns a copy of u carrying a new permission code.
func (u User) WithPermission(permission string) User {
	u.Permission = permission
	return u
}

func (u User) String() string {
	return fmt.Sprintf("User [userID=%s, name=%s, permission=%s, position=%s, description=%s]",
		u.UserID, u.Name, u.Permission, u.Position, u.Description)
}

// requiredKeys lists the wire keys in canonical order.
var requiredKeys = []string{"description", "name", "permission", "position", "userID"}

// Encode produces the canonical serialization of u: a JSON object with keys
// in the fixed order description, name, permission, position, userID and
// no HTML escaping. Fields that are not valid UTF-8 are MALFORMED_RECORD,
// since the encoder would otherwise rewrite them.
func Encode(u User) ([]byte, error) {
	if err := u.checkUTF8(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(u); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (u User) checkUTF8() error {
	// same order as requiredKeys
	for i, v := range []string{u.Description, u.Name, u.Permission, u.Position, u.UserID} {
		if !utf8.ValidString(v) {
			return Errorf(CodeMalformedRecord, "record key %q is not valid UTF-8", requiredKeys[i])
		}
	}
	return nil
}

// EncodeList produces a JSON array of canonical records in the given order.
func EncodeList(users []User) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, u := range users {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := Encode(u)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Decode parses a serialized record. Keys may appear in any order and unknown
// keys are ignored, but each of the five required keys must be present with a
// string value, otherwise a MALFORMED_RECORD error is returned.
func Decode(data []byte) (User, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return User{}, Errorf(CodeMalformedRecord, "record is not a JSON object: %v", err)
	}
	if raw == nil {
		return User{}, Errorf(CodeMalformedRecord, "record is null")
	}

	values := make(map[string]string, len(requiredKeys))
	for _, key := range requiredKeys {
		field, ok := raw[key]
		if !ok {
			return User{}, Errorf(CodeMalformedRecord, "record is missing key %q", key)
		}
		trimmed := bytes.TrimSpace(field)
		if len(trimmed) == 0 || trimmed[0] != '"' {
			return User{}, Errorf(CodeMalformedRecord, "record key %q is not a string", key)
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return User{}, Errorf(CodeMalformedRecord, "record key %q: %v", key, err)
		}
		values[key] = s
	}

	return User{
		Description: values["description"],
		Name:        values["name"],
		Permission:  values["permission"],
		Position:    values["position"],
		UserID:      values["userID"],
	}, nil
}

// DecodeList parses a JSON array of records.
func DecodeList(data []byte) ([]User, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, Errorf(CodeMalformedRecord, "record list is not a JSON array: %v", err)
	}
	users := make([]User, 0, len(items))
	for i, item := range items {
		u, err := Decode(item)
		if err != nil {
			return nil, fmt.Errorf("record list[%d]: %w", i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// AuditLog represents a committed ledger transaction.
type AuditLog struct {
	TxID      string    `json:"tx_id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	ChannelID string    `json:"channel_id"`
	Keys      []string  `json:"keys"`
}
