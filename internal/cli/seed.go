package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
}

// SeedResult is the seed command's output.
type SeedResult struct {
	Database string `json:"database"`
	Records  int    `json:"records"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("seeded %d records into %s", r.Records, r.Database)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo catalogue",
		Long: `Create a demo catalogue (categories, products, an order and a FAQ thread)
in a SQLite database, creating the database if needed.

Example:
  replica seed --db ./shop.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
	opts.setupLogging(os.Stderr)

	srv, err := openServer(opts.Database)
	if err != nil {
		return err
	}
	defer closeServer(srv)

	n, err := srv.Seed(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to seed database", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(SeedResult{Database: opts.Database, Records: n})
}
