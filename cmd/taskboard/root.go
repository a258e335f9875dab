package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskboard/internal/config"
	"github.com/taskboard/internal/logging"
)

// rootOptions holds flags shared by every subcommand
type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "taskboard",
		Short:         "Task board with local and document-store backed task lists",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "taskboard.yaml", "path to the YAML config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-console", false, "human readable log output")
	flags.String("nats-url", "", "NATS server URL (empty starts an embedded server)")
	flags.String("db", "", "SQLite database path")

	opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	opts.v.BindPFlag("log.console", flags.Lookup("log-console"))
	opts.v.BindPFlag("nats.url", flags.Lookup("nats-url"))
	opts.v.BindPFlag("docstore.db_path", flags.Lookup("db"))

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newDocstoreCmd(opts))
	rootCmd.AddCommand(newTasksCmd(opts))

	return rootCmd
}

// load reads the config file, applies environment and flag overrides and
// validates the result
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o.v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// logger builds the process logger from cfg
func (o *rootOptions) logger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	}, nil)
}
