package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/config"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

type options struct {
	docs    config.Documents
	verbose bool
	envErr  error
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	if docs, err := config.LoadDocuments(); err != nil {
		opts.envErr = err
	} else {
		opts.docs = *docs
	}
	rootCmd := &cobra.Command{
		Use:           "inactivityctl",
		Short:         "Inspect and edit the inactivity agent's stored policy and activity",
		Long:          "inactivityctl operates on the documents the inactivity agent persists. Stop the agent, or rely on its policy watcher, before editing.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.envErr
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.docs.DataDir, "data-dir", opts.docs.DataDir, "directory of the file storage driver (DATA_DIR)")
	flags.StringVar(&opts.docs.StorageDriver, "driver", opts.docs.StorageDriver, "storage driver: file or sqlite (STORAGE_DRIVER)")
	flags.StringVar(&opts.docs.SQLitePath, "sqlite-path", opts.docs.SQLitePath, "database path of the sqlite driver, default <data-dir>/agent.db (SQLITE_PATH)")
	flags.StringVar(&opts.docs.PolicyDefaultsFile, "defaults", opts.docs.PolicyDefaultsFile, "YAML file overriding built-in policy defaults (POLICY_DEFAULTS_FILE)")
	flags.StringVar(&opts.docs.NotifyTimezone, "timezone", opts.docs.NotifyTimezone, "timezone used to print timestamps (NOTIFY_TIMEZONE)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log storage operations to stderr")

	rootCmd.AddCommand(
		newPolicyCmd(opts),
		newActivityCmd(opts),
	)
	return rootCmd
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
}

func (o *options) backend(cmd *cobra.Command) (persist.Backend, error) {
	b, err := persist.Open(persist.Config{
		Driver:     o.docs.StorageDriver,
		Dir:        o.docs.DataDir,
		SQLitePath: o.docs.SQLiteFile(),
	}, o.logger(cmd))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return b, nil
}

// policyStore opens and loads the policy document.
func (o *options) policyStore(cmd *cobra.Command) (*policy.Store, persist.Backend, error) {
	b, err := o.backend(cmd)
	if err != nil {
		return nil, nil, err
	}
	limits := policy.DefaultLimits()
	defaults, err := policy.LoadDefaults(o.docs.PolicyDefaultsFile, limits)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	s := policy.NewStore(b, defaults, limits, o.logger(cmd))
	s.Load(cmd.Context())
	return s, b, nil
}

// activityStore opens and loads the activity document.
func (o *options) activityStore(cmd *cobra.Command) (*activity.Store, persist.Backend, error) {
	b, err := o.backend(cmd)
	if err != nil {
		return nil, nil, err
	}
	s := activity.NewStore(b, o.logger(cmd))
	s.Load(cmd.Context())
	return s, b, nil
}
