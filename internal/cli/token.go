package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-userman/internal/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Secret string
	Issuer string
	TTL    time.Duration
	Attrs  []string
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for username",
		Long: `Issue a bearer token for username, signed with the daemon's secret.

A token may mutate a channel only when username equals the channel id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Secret == "" {
				return NewExitError(ExitCommandError, "--secret or CELERIX_JWT_SECRET is required")
			}
			attrs, err := parseAttrs(opts.Attrs)
			if err != nil {
				return WrapExitError(ExitCommandError, "token", err)
			}
			tok, err := auth.NewTokenManager(opts.Secret, opts.Issuer, opts.TTL).Generate(args[0], attrs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", os.Getenv("CELERIX_JWT_SECRET"), "HMAC signing secret")
	cmd.Flags().StringVar(&opts.Issuer, "issuer", envOr("CELERIX_JWT_ISSUER", "celerix-userman"), "token issuer")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "extra attribute as key=value (repeatable)")

	return cmd
}

func parseAttrs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("attribute %q is not key=value", p)
		}
		attrs[k] = v
	}
	return attrs, nil
}
