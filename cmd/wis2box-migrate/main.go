package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/wis2box-migrate/internal/checkpoint"
	"github.com/JonMunkholm/wis2box-migrate/internal/config"
	"github.com/JonMunkholm/wis2box-migrate/internal/core"
	_ "github.com/JonMunkholm/wis2box-migrate/internal/core/migrations" // Register all migrations
	"github.com/JonMunkholm/wis2box-migrate/internal/docstore"
	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
	"github.com/JonMunkholm/wis2box-migrate/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var verbosityLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR"}

func main() {
	// A .env file is optional; variables already set take precedence.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	if core.IsUserFacing(err) {
		fmt.Fprintln(stderr, core.FormatUserError(err))
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return failure.ExitCode(err)
}

type rootOptions struct {
	verbosity string
	stdout    io.Writer
	stderr    io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "wis2box-migrate",
		Short:         "Apply versioned data migrations to wis2box station metadata",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbosity == "" {
				return nil
			}
			for _, level := range verbosityLevels {
				if strings.EqualFold(opts.verbosity, level) {
					return nil
				}
			}
			return fmt.Errorf("invalid --verbosity %q (want one of %s)",
				opts.verbosity, strings.Join(verbosityLevels, ", "))
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVarP(&opts.verbosity, "verbosity", "v", "",
		"Log level: "+strings.Join(verbosityLevels, "|")+" (default: LOG_LEVEL)")

	cmd.AddCommand(newRunCmd(opts), newListCmd(opts))
	return cmd
}

type runOptions struct {
	dryRun bool
	resume bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <version>",
		Short: "Migrate the station file and the station index to <version>",
		Long: `Rewrite codelist values in station_list.csv and in the stations index.

The station file is written to station_list.csv.<version> next to the
original. Documents are updated in place, one bulk request per batch.
With --dryrun nothing is written: the migrated table and every batch of
updates are printed to stdout instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), root, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dryrun", false, "Print the migrated data instead of writing it")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Resume the index pass from the last saved checkpoint")

	return cmd
}

func runMigration(ctx context.Context, root *rootOptions, opts runOptions, target string) error {
	// Unknown versions fail before configuration or any store is touched.
	if _, err := core.Resolve(target); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if root.verbosity != "" {
		level = root.verbosity
	}
	logging.SetupWriter(root.stderr, level, cfg.Logging.Format)

	ctx = logging.WithRunID(ctx, uuid.NewString())
	logger := logging.FromContext(ctx)
	logger.Debug("configuration loaded", "config", cfg.String())

	store, err := docstore.New(cfg.Store.URL)
	if err != nil {
		return err
	}

	var checkpoints core.Checkpointer
	if cfg.CheckpointsEnabled() {
		pg, err := checkpoint.NewPostgres(ctx, cfg.Checkpoint.DatabaseURL, cfg.Checkpoint.Table)
		if err != nil {
			return err
		}
		defer pg.Close()
		checkpoints = pg
	} else {
		if opts.resume {
			logger.Warn("--resume has no effect without CHECKPOINT_DATABASE_URL")
		}
		checkpoints = checkpoint.NewMemory()
	}

	return core.Run(ctx, target, opts.dryRun, &core.Env{
		StationFile: cfg.StationFile(),
		Index:       cfg.Store.Index,
		BatchSize:   cfg.Store.BatchSize,
		Store:       store,
		Checkpoints: checkpoints,
		Resume:      opts.resume,
		Out:         root.stdout,
	})
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
			for _, m := range core.All() {
				fmt.Fprintf(w, "%s\t%s\n", m.Version(), m.Description())
			}
			return w.Flush()
		},
	}
}
