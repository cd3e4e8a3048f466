package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-userman/pkg/schema"
	"github.com/celerix-dev/celerix-userman/pkg/sdk"
)

func printUser(w io.Writer, u schema.User) error {
	data, err := schema.Encode(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the seed record to the channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				u, err := ch.InitLedger()
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), u)
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "Print a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				u, err := ch.GetUser(args[0])
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), u)
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <user-id> <name> <permission> <position> <description>",
		Short: "Create a user record",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				u, err := ch.AddNewUser(schema.NewUser(args[0], args[1], args[2], args[3], args[4]))
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), u)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <user-id> <permission>",
		Short: "Replace the permission code of a user record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				u, err := ch.UpdateUser(args[0], args[1])
				if err != nil {
					return err
				}
				return printUser(cmd.OutOrStdout(), u)
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Remove a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				if err := ch.DeleteUser(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}
}

// NewExistsCommand creates the exists command.
func NewExistsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <user-id>",
		Short: "Print true when a record is stored under the id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				ok, err := ch.UserExists(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
				return nil
			})
		},
	}
}

// NewPermissionCommand creates the permission command.
func NewPermissionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "permission <user-id>",
		Short: "Print the permission code of a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				perm, err := ch.GetUserPermission(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), perm)
				return nil
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every record on the channel as a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				users, err := ch.GetAllUsers()
				if err != nil {
					return err
				}
				data, err := schema.EncodeList(users)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

// NewAccessCommand creates the access command.
func NewAccessCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "access <user-id> <read|write>",
		Short: "Check whether a user's permission code grants an action",
		Long: `Resolve the user's record and interpret its permission code:
"11" grants read and write, "10" grants write only, anything else grants nothing.
Exits 1 when access is denied.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := schema.ParseAction(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "access", err)
			}
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				if err := ch.CheckAccess(args[0], action); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "granted")
				return err
			})
		},
	}
}
