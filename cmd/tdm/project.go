package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/app"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectShowCmd())
	cmd.AddCommand(projectOpenCmd())
	cmd.AddCommand(projectCompleteCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var title, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if owner == "" {
					owner = actor()
				}
				p, err := a.Engine.CreateProject(ctx, title, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println(p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to --actor-id)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Owner", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.OwnerID, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				reqs, err := a.Engine.Repo.ListRequirementsByProject(ctx, a.DB, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "requirements": reqs})
				}
				fmt.Printf("%s  %s  [%s]  owner=%s\n", p.ID, p.Title, p.Status, p.OwnerID)
				renderRequirements(reqs)
				return nil
			})
		},
	}
}

func projectOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <project-id>",
		Short: "Open every draft requirement of a project for search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, reqs, err := a.Engine.OpenProject(ctx, args[0], actor())
				if err != nil && reqs == nil {
					return err
				}
				if err != nil {
					fmt.Fprintln(os.Stderr, "warning:", err)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "requirements": reqs})
				}
				fmt.Printf("%s now %s\n", p.ID, p.Status)
				renderRequirements(reqs)
				return nil
			})
		},
	}
}

func projectCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <project-id>",
		Short: "Mark a project completed and release its workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CompleteProject(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s now %s\n", p.ID, p.Status)
				return nil
			})
		},
	}
}

func renderRequirements(reqs []domain.Requirement) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Role", "Seniority", "Status", "Holder", "Synthetic", "Deadline"})
	for _, r := range reqs {
		tw.AppendRow(table.Row{r.ID, r.RoleID, r.Seniority, r.BookingStatus, deref(r.HolderID), r.IsSynthetic, deref(r.SearchDeadline)})
	}
	tw.Render()
}
