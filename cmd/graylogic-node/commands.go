package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-node/internal/history"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

// newRootCommand builds the command tree. The root command runs the node.
func newRootCommand() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:   "graylogic-node [document]",
		Short: "Gray Logic node supervisor",
		Long: `graylogic-node loads a node document (comms, outputs, programmed events
and inputs), claims the hardware it names and serves it until stopped.

The document path comes from the argument, then node.document in the
configuration file.`,
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag, args)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)
			log.Info("starting Gray Logic node",
				"version", version,
				"commit", commit,
				"build_date", date,
			)
			return run(cmd.Context(), cfg, log)
		},
	}
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Path to config file (default: $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	cmd.AddCommand(
		newValidateCommand(&configFlag),
		newHistoryCommand(&configFlag),
		newSnapshotCommand(&configFlag),
		newVersionCommand(),
	)
	return cmd
}

// usageArgs marks positional-argument failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

// loadConfig loads the daemon configuration and applies a document path
// argument. A missing default config file is not an error; the node then
// runs from defaults and environment.
func loadConfig(configFlag string, args []string) (*config.Config, error) {
	path := getConfigPath(configFlag)
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfigLoad, err)
	}
	if len(args) > 0 {
		cfg.Node.Document = args[0]
	}
	return cfg, nil
}

func newValidateCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [document]",
		Short: "Check a node document against the schema without claiming hardware",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag, args)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(cfg.Node.Document)
			if err != nil {
				return fmt.Errorf("reading node document: %w", err)
			}

			v, err := node.NewValidator()
			if err != nil {
				return err
			}
			if err := v.Validate(node.SchemaNode, data); err != nil {
				return err
			}

			var doc node.Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("%w: %v", node.ErrConfig, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: node %q ok (%d comms, %d outputs, %d events, %d inputs)\n",
				cfg.Node.Document, doc.ID,
				len(doc.Comms), len(doc.Outputs), len(doc.ProgrammedEvents), len(doc.Inputs))
			return nil
		},
	}
}

func newHistoryCommand(configFlag *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <module-id>",
		Short: "Print recent value changes recorded for a module",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openHistory(*configFlag)
			if err != nil {
				return err
			}
			defer closeDB()

			entries, err := repo.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tFAMILY\tTYPE\tVALUE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Family, e.ModuleType, e.Value)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}

func newSnapshotCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <node-id>",
		Short: "Print the latest stored snapshot of a node document",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openHistory(*configFlag)
			if err != nil {
				return err
			}
			defer closeDB()

			snap, err := repo.LatestSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "# %s snapshot taken %s\n",
				snap.Reason, snap.CreatedAt.Local().Format(time.DateTime))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(snap.Document))
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graylogic-node %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// openHistory opens the configured database read-side for the inspection
// commands.
func openHistory(configFlag string) (*history.Repository, func(), error) {
	cfg, err := loadConfig(configFlag, nil)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("%w: database is disabled", errConfigLoad)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return history.NewRepository(db.DB), func() { _ = db.Close() }, nil
}
