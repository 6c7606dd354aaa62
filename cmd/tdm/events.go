package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/app"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/repo"
)

func sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire searching requirements whose deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now()
				if at != "" {
					parsed, err := time.Parse(time.RFC3339, at)
					if err != nil {
						return fmt.Errorf("invalid --now: %w", err)
					}
					now = parsed
				}
				n, err := a.Engine.ExpireDue(ctx, now, actor())
				if viper.GetBool("json") {
					if perr := printJSON(map[string]any{"expired": n, "at": now.UTC().Format(time.RFC3339)}); perr != nil {
						return perr
					}
					return err
				}
				fmt.Printf("expired %d requirement(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "sweep as of this RFC3339 time")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Read the event log"}
	cmd.AddCommand(eventsTailCmd())
	return cmd
}

func eventsTailCmd() *cobra.Command {
	var scope repo.EventScope
	var limit int
	var after int64
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events after a cursor, optionally following new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				asJSON := viper.GetBool("json")
				if !follow {
					items, err := a.Engine.Repo.EventsAfter(ctx, limit, after, scope)
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(items)
					}
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"#", "TS", "Type", "Entity", "From", "To", "Actor"})
					for _, e := range items {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.FromState, e.ToState, e.ActorID})
					}
					tw.Render()
					return nil
				}
				sub, err := a.Feed.Subscribe(ctx, scope, after, func(ctx context.Context, evt domain.Event) error {
					if asJSON {
						return printJSON(evt)
					}
					fmt.Printf("%d %s %s %s:%s %s->%s by %s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.FromState, evt.ToState, evt.ActorID)
					return nil
				})
				if err != nil {
					return err
				}
				defer sub.Close()
				select {
				case <-ctx.Done():
					return nil
				case <-sub.Done():
					return sub.Err()
				}
			})
		},
	}
	cmd.Flags().StringVar(&scope.ProjectID, "project", "", "only events of this project")
	cmd.Flags().StringVar(&scope.WorkerID, "worker", "", "only events addressed to this worker")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to print without --follow")
	cmd.Flags().Int64Var(&after, "after", 0, "print events after this id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new events")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect the provisioning outbox"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List outbox jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListJobs(ctx, domain.JobStatus(status), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Kind", "Requirement", "Status", "Attempts", "Next attempt", "Last error"})
				for _, j := range items {
					tw.AppendRow(table.Row{j.ID, j.Kind, j.RequirementID, j.Status, j.Attempts, j.NextAttemptAt, j.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending|done|dead")
	list.Flags().IntVar(&limit, "limit", 100, "maximum jobs")
	cmd.AddCommand(list)
	return cmd
}
