// Package sdk provides the client-side library for the user-management ledger.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// ErrRequest wraps failures the daemon reported without a domain code.
var ErrRequest = errors.New("request failed")

// ErrNoReply means a submitted transaction reached the daemon but its reply
// was lost. The transaction may or may not have committed; it is not resent.
var ErrNoReply = errors.New("no reply to submitted transaction")

// idleTimeout stays below the daemon's 30 second read deadline, so a
// connection the daemon has already dropped is replaced before it is used.
const idleTimeout = 20 * time.Second

// Client is a remote client for the ledger daemon. It implements UserService.
type Client struct {
	addr     string
	token    string
	conn     net.Conn
	reader   *bufio.Reader
	lastUsed time.Time
	mu       sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote daemon and
// authenticates with token when it is non-empty. If CELERIX_DISABLE_TLS is
// set to "true", it falls back to plain TCP.
func Connect(addr, token string) (*Client, error) {
	c := &Client{addr: addr, token: token}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) reconnect() error {
	c.drop()

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv("CELERIX_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // The daemon uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.lastUsed = time.Now()

	if c.token != "" {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
		if _, err := fmt.Fprintf(conn, "AUTH %s\n", c.token); err != nil {
			c.drop()
			return err
		}
		resp, err := c.reader.ReadString('\n')
		if err != nil {
			c.drop()
			return err
		}
		if _, err := parseResponse(strings.TrimSpace(resp)); err != nil {
			c.drop()
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	return nil
}

// sendAndReceive sends one command line and returns the reply after "OK ".
// Only a request that never reached the daemon is resent, unless the
// command is read-only.
func (c *Client) sendAndReceive(cmd string, readOnly bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && time.Since(c.lastUsed) > idleTimeout {
		c.drop()
	}

	var err error
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration((i+1)*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		// The daemon only executes complete lines, so a failed write is safe
		// to resend.
		if _, err = fmt.Fprint(c.conn, cmd+"\n"); err != nil {
			slog.Warn("celerix sdk: write failed, reconnecting", "attempt", i+1, "error", err)
			c.drop()
			time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
			continue
		}

		var resp string
		resp, err = c.reader.ReadString('\n')
		if err == nil {
			c.lastUsed = time.Now()
			return parseResponse(strings.TrimSpace(resp))
		}
		c.drop()
		if !readOnly {
			return "", fmt.Errorf("%w: %v", ErrNoReply, err)
		}

		slog.Warn("celerix sdk: read failed, reconnecting", "attempt", i+1, "error", err)
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %w", err)
}

// parseResponse turns "OK <payload>" into the payload and
// "ERR <CODE> <message>" into an error, a *schema.Error for domain codes.
func parseResponse(resp string) (string, error) {
	switch {
	case resp == "OK":
		return "", nil
	case strings.HasPrefix(resp, "OK "):
		return strings.TrimPrefix(resp, "OK "), nil
	case strings.HasPrefix(resp, "ERR "):
		code, msg, _ := strings.Cut(strings.TrimPrefix(resp, "ERR "), " ")
		if c, ok := schema.ParseErrorCode(code); ok {
			return "", &schema.Error{Code: c, Message: msg}
		}
		return "", fmt.Errorf("%w: %s", ErrRequest, msg)
	default:
		return "", fmt.Errorf("unexpected reply %q", resp)
	}
}

// call runs a transaction and unwraps its JSON string result.
func (c *Client) call(verb, channelID, fn string, args ...string) (string, error) {
	cmd := fmt.Sprintf("%s %s %s", verb, channelID, fn)
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return "", err
		}
		cmd += " " + string(raw)
	}
	payload, err := c.sendAndReceive(cmd, verb == "EVALUATE")
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return out, nil
}

func (c *Client) callUser(verb, channelID, fn string, args ...string) (schema.User, error) {
	out, err := c.call(verb, channelID, fn, args...)
	if err != nil {
		return schema.User{}, err
	}
	return schema.Decode([]byte(out))
}

func (c *Client) InitLedger(channelID string) (schema.User, error) {
	return c.callUser("SUBMIT", channelID, "InitLedger")
}

func (c *Client) AddNewUser(channelID string, u schema.User) (schema.User, error) {
	return c.callUser("SUBMIT", channelID, "AddNewUser", u.UserID, u.Name, u.Permission, u.Position, u.Description)
}

func (c *Client) GetUser(channelID, userID string) (schema.User, error) {
	return c.callUser("EVALUATE", channelID, "GetUser", userID)
}

func (c *Client) UpdateUser(channelID, userID, newPermission string) (schema.User, error) {
	return c.callUser("SUBMIT", channelID, "UpdateUser", userID, newPermission)
}

func (c *Client) DeleteUser(channelID, userID string) error {
	_, err := c.call("SUBMIT", channelID, "DeleteUser", userID)
	return err
}

func (c *Client) UserExists(channelID, userID string) (bool, error) {
	out, err := c.call("EVALUATE", channelID, "UserExists", userID)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(out)
}

func (c *Client) GetUserPermission(channelID, userID string) (string, error) {
	return c.call("EVALUATE", channelID, "GetUserPermission", userID)
}

func (c *Client) GetAllUsers(channelID string) ([]schema.User, error) {
	out, err := c.call("EVALUATE", channelID, "GetAllUsers")
	if err != nil {
		return nil, err
	}
	return schema.DecodeList([]byte(out))
}

// CheckAccess asks the daemon whether userID's permission code grants action.
func (c *Client) CheckAccess(channelID, userID string, action schema.Action) error {
	raw, err := json.Marshal(userID)
	if err != nil {
		return err
	}
	_, err = c.sendAndReceive(fmt.Sprintf("ACCESS %s %s %s", channelID, action, raw), true)
	return err
}

func (c *Client) Channels() ([]string, error) {
	resp, err := c.sendAndReceive("CHANNELS", true)
	if err != nil {
		return nil, err
	}
	var list []string
	err = json.Unmarshal([]byte(resp), &list)
	return list, err
}

// Channel returns a scope pinned to channelID.
func (c *Client) Channel(channelID string) ChannelScope {
	return Channel(c, channelID)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}
