package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/queryview"
	"github.com/roach88/replica/internal/remote"
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	Database string
	Search   string
	Status   string
	Category string
	SortBy   string
	Desc     bool
	Cursor   int
	Limit    int
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view <kind>",
		Short: "Load a collection into the replica and print a projected view",
		Long: `Load every record of a kind from the server into a fresh replica, then
print one page of the projected view.

Kinds: product, seller_order, faq_question, faq_answer.
Status accepts the derived stock statuses low_stock and out_of_stock.

Examples:
  replica view --db ./shop.db product
  replica view --db ./shop.db product --status low_stock --sort stock
  replica view --db ./shop.db faq_question --search waterproof --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "case-insensitive search term")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category id filter")
	cmd.Flags().StringVar(&opts.SortBy, "sort", "", "sort by name, price or stock (default: list order)")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.Cursor, "cursor", 0, "offset of the first row")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "rows per page (default: config page_size)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runView(opts *ViewOptions, kindArg string, cmd *cobra.Command) error {
	opts.setupLogging(os.Stderr)

	kind, err := model.ParseKind(kindArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}
	switch opts.SortBy {
	case "", "name", "price", "stock":
	default:
		return NewExitError(ExitCommandError, "--sort must be name, price or stock")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	srv, err := openServer(opts.Database)
	if err != nil {
		return err
	}
	defer closeServer(srv)

	ctx := cmd.Context()
	eng, err := newReplica(ctx, srv, srv, cfg)
	if err != nil {
		return err
	}
	stop := startEngine(ctx, eng)
	defer stop()

	if _, err := eng.LoadAll(ctx, kind, remote.ListParams{Limit: cfg.PageSize}); err != nil {
		return WrapExitError(ExitFailure, "failed to load "+string(kind), err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.PageSize
	}
	vm := eng.View(queryview.Params{
		Kind:              kind,
		Search:            opts.Search,
		Status:            opts.Status,
		CategoryID:        opts.Category,
		SortBy:            opts.SortBy,
		Desc:              opts.Desc,
		Cursor:            opts.Cursor,
		Limit:             limit,
		LowStockThreshold: int64(cfg.LowStockThreshold),
	})

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(newViewOutput(vm))
}
