// Package server exposes the gateway over a line-oriented TCP protocol.
//
// Each request is one line; each reply is one line starting with OK, ERR or
// PONG. A connection is anonymous until it sends AUTH.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/internal/contract"
	"github.com/celerix-dev/celerix-userman/internal/gateway"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

// CodeRequest is the wire code for failures that are not domain errors.
const CodeRequest = "REQUEST_FAILED"

// MaxConnections bounds concurrently served connections.
const MaxConnections = 100

type Router struct {
	gw     *gateway.Gateway
	tokens *auth.TokenManager
	cert   *tls.Certificate
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	conns    map[net.Conn]struct{}
	active   sync.WaitGroup
}

// NewRouter serves gw. tokens may be nil, in which case AUTH is refused and
// every connection stays anonymous.
func NewRouter(gw *gateway.Gateway, tokens *auth.TokenManager) *Router {
	return &Router{gw: gw, tokens: tokens, logger: slog.Default()}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// SetLogger replaces the default logger.
func (r *Router) SetLogger(l *slog.Logger) {
	r.logger = l
}

// Addr returns the bound address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	semaphore := make(chan struct{}, MaxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", "error", err)
			continue
		}

		if !r.track(conn) {
			conn.Close()
			return nil
		}
		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
				r.untrack(c)
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

func (r *Router) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.conns == nil {
		r.conns = make(map[net.Conn]struct{})
	}
	r.conns[c] = struct{}{}
	r.active.Add(1)
	return true
}

func (r *Router) untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	r.active.Done()
}

func (r *Router) stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stop closes the listener and interrupts idle reads on open connections.
// A request already being served still gets its reply; the connection is
// closed before the next one is read.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for c := range r.conns {
		c.SetReadDeadline(time.Now())
	}
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// Shutdown stops the router and waits for open connections to finish.
// When ctx expires first the remaining connections are closed forcibly.
func (r *Router) Shutdown(ctx context.Context) error {
	err := r.Stop()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	drained := make(chan struct{})
	go func() {
		r.active.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return err
	case <-ctx.Done():
		r.mu.Lock()
		for c := range r.conns {
			c.Close()
		}
		r.mu.Unlock()
		<-drained
		return errors.Join(err, ctx.Err())
	}
}

// HandleConnection serves requests on conn until QUIT, EOF or a read timeout.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	var id ledger.Identity = auth.Anonymous

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		// Checked after the deadline is set so a concurrent Stop cannot be
		// overwritten by it.
		if r.stopping() {
			return
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("connection closed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 4)
		command := strings.ToUpper(parts[0])

		switch command {
		case "AUTH":
			if len(parts) < 2 {
				replyErr(conn, CodeRequest, "usage: AUTH <token>")
				continue
			}
			if r.tokens == nil {
				replyErr(conn, CodeRequest, "authentication is not configured")
				continue
			}
			claims, err := r.tokens.Parse(strings.TrimSpace(strings.Join(parts[1:], " ")))
			if err != nil {
				replyErr(conn, CodeRequest, err.Error())
				continue
			}
			id = claims
			reply(conn, claims.Username)

		case "SUBMIT", "EVALUATE":
			if len(parts) < 3 {
				replyErr(conn, CodeRequest, "usage: "+command+" <channel> <transaction> [args]")
				continue
			}
			r.handleTransaction(conn, id, command, parts[1:])

		case "ACCESS":
			if len(parts) < 4 {
				replyErr(conn, CodeRequest, "usage: ACCESS <channel> <read|write> <json user id>")
				continue
			}
			r.handleAccess(conn, id, parts[1:])

		case "CHANNELS":
			list, err := r.gw.Channels()
			if err != nil {
				replyErr(conn, CodeRequest, err.Error())
				continue
			}
			if list == nil {
				list = []string{}
			}
			res, _ := json.Marshal(list)
			fmt.Fprintln(conn, "OK", string(res))

		case "PING":
			fmt.Fprintln(conn, "PONG")

		case "QUIT":
			return

		default:
			replyErr(conn, CodeRequest, "unknown command "+command)
		}
	}
}

func (r *Router) handleTransaction(conn net.Conn, id ledger.Identity, command string, parts []string) {
	channel, fn := parts[0], parts[1]
	var raw string
	if len(parts) > 2 {
		raw = parts[2]
	}

	intent, err := contract.IntentOf(fn)
	if err != nil {
		replyErr(conn, CodeRequest, err.Error())
		return
	}
	if command == "EVALUATE" && intent == contract.Submit {
		replyErr(conn, CodeRequest, fn+" must be submitted")
		return
	}

	args, err := gateway.DecodeArgs(raw)
	if err != nil {
		replyErr(conn, CodeRequest, err.Error())
		return
	}

	out, err := r.gw.Invoke(context.Background(), channel, id, fn, args)
	if err != nil {
		r.replyFailure(conn, channel, fn, err)
		return
	}
	reply(conn, out)
}

func (r *Router) handleAccess(conn net.Conn, id ledger.Identity, parts []string) {
	channel := parts[0]
	action, err := schema.ParseAction(parts[1])
	if err != nil {
		replyErr(conn, CodeRequest, err.Error())
		return
	}
	var userID string
	if err := json.Unmarshal([]byte(parts[2]), &userID); err != nil {
		replyErr(conn, CodeRequest, "user id must be a JSON string")
		return
	}

	if err := r.gw.CheckAccess(context.Background(), channel, id, userID, action); err != nil {
		r.replyFailure(conn, channel, "ACCESS", err)
		return
	}
	reply(conn, string(action))
}

func (r *Router) replyFailure(conn net.Conn, channel, fn string, err error) {
	var domain *schema.Error
	if errors.As(err, &domain) {
		replyErr(conn, string(domain.Code), domain.Message)
		return
	}
	r.logger.Error("transaction failed", "channel", channel, "transaction", fn, "error", err)
	replyErr(conn, CodeRequest, err.Error())
}

// reply sends a transaction result as a JSON string so payloads never break
// the line framing.
func reply(w io.Writer, payload string) {
	res, _ := json.Marshal(payload)
	fmt.Fprintln(w, "OK", string(res))
}

func replyErr(w io.Writer, code, msg string) {
	fmt.Fprintln(w, "ERR", code, strings.ReplaceAll(msg, "\n", " "))
}
