package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newDocstoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "docstore",
		Short: "Run only the document service (auth and task storage over NATS)",
		Long: `Run the document service that remote-mode boards talk to.

Several instances may share one NATS server; requests are spread across the
"docstore" queue group. Boards pointing at the same broker should set
docstore.external so they don't start their own copy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocstore(cmd.Context(), opts)
		},
	}
}

func runDocstore(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, closer, err := opts.logger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := connectBroker(cfg, "taskboard-docstore", logger)
	if err != nil {
		return err
	}
	defer b.Close()

	stopService, err := startService(cfg, b.client, logger)
	if err != nil {
		return err
	}
	defer stopService()

	<-ctx.Done()
	logger.Info().Msg("document service stopping")
	return nil
}
