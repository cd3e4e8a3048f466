// Package cli implements the celerix command line client.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-userman/pkg/sdk"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr    string
	Token   string
	Channel string

	// DataDir switches to embedded mode: the ledger files under it are
	// opened in-process and As is the acting username.
	DataDir string
	As      string

	// open is replaced in tests.
	open func(*RootOptions) (sdk.UserService, error)
}

// NewRootCommand creates the root command for the celerix CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{open: openService}

	cmd := &cobra.Command{
		Use:   "celerix",
		Short: "Manage user records on a celerix ledger",
		Long: `Manage user records on a celerix ledger.

Mutations are accepted only when the caller's username equals the channel id.
Connects to the daemon at --addr using --token, or opens the ledger in-process
when --data-dir is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Channel == "" {
				return NewExitError(ExitCommandError, "--channel must not be empty")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", envOr("CELERIX_STORE_ADDR", "localhost:7001"), "daemon address")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("CELERIX_TOKEN"), "bearer token sent with AUTH")
	cmd.PersistentFlags().StringVarP(&opts.Channel, "channel", "c", envOr("CELERIX_CHANNEL", "mychannel"), "channel id")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "open the ledger in-process from this directory")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "username used in embedded mode")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExistsCommand(opts))
	cmd.AddCommand(NewPermissionCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAccessCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func openService(opts *RootOptions) (sdk.UserService, error) {
	if opts.DataDir != "" {
		return sdk.NewEmbedded(opts.DataDir, opts.As)
	}
	return sdk.Connect(opts.Addr, opts.Token)
}

// withChannel opens the service, runs fn against the selected channel and
// closes the service.
func (o *RootOptions) withChannel(fn func(ch sdk.ChannelScope) error) error {
	svc, err := o.open(o)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect", err)
	}
	defer svc.Close()
	return fn(sdk.Channel(svc, o.Channel))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The ledger rejected the operation
	ExitCommandError = 2 // Bad flags, unreachable daemon, unreadable files
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
