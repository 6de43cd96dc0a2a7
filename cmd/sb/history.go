package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/helpdesk"
	"github.com/zulandar/switchboard/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect closed dialogs",
	}

	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryListCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show TOKEN",
		Short: "Show a dialog record by token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(configPath)
			if err != nil {
				return err
			}
			rec, err := store.FindByToken(context.Background(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no dialog with token %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), helpdesk.RecordText(rec))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var (
		configPath string
		asker      string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an asker's dialogs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asker == "" {
				return fmt.Errorf("--asker is required")
			}
			store, err := openHistory(configPath)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			recs, err := store.RecentForAsker(context.Background(), asker, from, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintf(out, "No dialogs for %s.\n", asker)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tASKED\tSUPERVISORS")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Token, r.QuestionAt.Format(history.TimeLayout),
					strings.Join(history.SplitList(r.Supervisors), ", "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&asker, "asker", "", "platform user ID of the asker")
	cmd.Flags().DurationVar(&since, "since", 0, "only dialogs asked within this window (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of dialogs")
	return cmd
}

func openHistory(configPath string) (*history.Store, error) {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return nil, err
	}
	return history.NewStore(gormDB)
}
