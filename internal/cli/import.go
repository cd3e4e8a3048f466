package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/celerix-userman/pkg/schema"
	"github.com/celerix-dev/celerix-userman/pkg/sdk"
)

// ImportFile is the YAML document read by the import command.
type ImportFile struct {
	Users []ImportUser `yaml:"users"`
}

type ImportUser struct {
	UserID      string `yaml:"userID"`
	Name        string `yaml:"name"`
	Permission  string `yaml:"permission"`
	Position    string `yaml:"position"`
	Description string `yaml:"description"`
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	SkipExisting bool
}

// LoadImportFile parses a YAML user list. Every entry needs a userID.
func LoadImportFile(path string) (*ImportFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f ImportFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, u := range f.Users {
		if u.UserID == "" {
			return nil, fmt.Errorf("%s: users[%d] has no userID", path, i)
		}
	}
	return &f, nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add every user listed in a YAML file",
		Long: `Add every user listed in a YAML file, one transaction per user.

Example file:
  users:
    - userID: u2
      name: Bob
      permission: "7"
      position: Dev
      description: backend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := LoadImportFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "import", err)
			}
			return opts.withChannel(func(ch sdk.ChannelScope) error {
				var added, skipped int
				for _, u := range f.Users {
					_, err := ch.AddNewUser(schema.NewUser(u.UserID, u.Name, u.Permission, u.Position, u.Description))
					if opts.SkipExisting && schema.IsCode(err, schema.CodeUserAlreadyExists) {
						skipped++
						continue
					}
					if err != nil {
						return fmt.Errorf("user %s: %w", u.UserID, err)
					}
					added++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", added, skipped)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false, "skip users whose id is already taken")

	return cmd
}
