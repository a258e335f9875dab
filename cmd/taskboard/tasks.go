package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/tasks"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect stored tasks",
	}
	cmd.AddCommand(newTasksListCmd(opts))
	cmd.AddCommand(newTasksOwnersCmd(opts))
	cmd.AddCommand(newTasksSnapshotCmd(opts))
	return cmd
}

func newTasksListCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's tasks from the database, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			db, store, _, err := openStores(cfg.Docstore.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := store.ListByOwner(owner)
			if err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), list, time.Now())
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner uid")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func newTasksOwnersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "List owners that have stored tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			db, store, _, err := openStores(cfg.Docstore.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			owners, err := store.Owners()
			if err != nil {
				return err
			}
			for _, o := range owners {
				fmt.Fprintln(cmd.OutOrStdout(), o)
			}
			return nil
		},
	}
}

func newTasksSnapshotCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the last snapshot retained by the broker for an owner",
		Long: `Show the last task snapshot the document service published for an owner.

Requires a broker with JetStream and the TASK_SNAPSHOTS stream, i.e. a
document service started with nats.store_dir set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.NATS.URL == "" {
				return errors.New("snapshot needs --nats-url pointing at a running broker")
			}

			client, err := natsc.NewClient(cfg.NATS.URL, "taskboard-cli", zerolog.Nop())
			if err != nil {
				return err
			}
			defer client.Close()

			sm, err := natsc.NewStreamManager(client, zerolog.Nop())
			if err != nil {
				return err
			}
			data, err := sm.LastSnapshot(owner)
			if err != nil {
				return fmt.Errorf("no retained snapshot for %s: %w", owner, err)
			}

			var snap natsc.SnapshotMessage
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("failed to decode snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revision %d\n", snap.Revision)
			return printTasks(cmd.OutOrStdout(), snap.Tasks, time.Now())
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner uid")
	cmd.MarkFlagRequired("owner")
	return cmd
}

// printTasks writes a table of tasks with humanized creation times
func printTasks(out io.Writer, list []tasks.Task, now time.Time) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "no tasks")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tDUE\tCREATED")
	for _, t := range list {
		due := "-"
		if t.HasDueDate() {
			due = t.DueDate
		}
		created := "-"
		if !t.CreatedAt.IsZero() {
			created = humanize.RelTime(t.CreatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status, due, created)
	}
	return w.Flush()
}
