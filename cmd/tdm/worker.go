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
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "Manage the worker directory"}
	cmd.AddCommand(workerRegisterCmd(false))
	cmd.AddCommand(workerRegisterCmd(true))
	cmd.AddCommand(workerAvailabilityCmd())
	cmd.AddCommand(workerListCmd())
	cmd.AddCommand(workerMissionsCmd())
	return cmd
}

func workerRegisterCmd(synthetic bool) *cobra.Command {
	var opts engine.WorkerOptions
	var seniority string
	use, short := "register", "Register a human worker"
	if synthetic {
		use, short = "synthetic", "Register the synthetic worker for a role"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.Seniority = domain.Seniority(seniority)
				opts.ActorID = actor()
				var w domain.Worker
				var err error
				if synthetic {
					w, err = a.Engine.RegisterSyntheticWorker(ctx, opts)
				} else {
					w, err = a.Engine.RegisterWorker(ctx, opts)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				fmt.Println(w.ID)
				return nil
			})
		},
	}
	if !synthetic {
		cmd.Flags().StringVar(&opts.ID, "id", "", "worker id (generated when empty)")
	}
	cmd.Flags().StringVar(&opts.RoleID, "role", "", "role id from the catalog")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&seniority, "seniority", "", "junior|intermediate|senior|expert")
	cmd.Flags().StringSliceVar(&opts.Languages, "language", nil, "spoken language (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Expertises, "expertise", nil, "expertise (repeatable)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func workerAvailabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability <worker-id> <available|unavailable>",
		Short: "Set a worker's availability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.SetAvailability(ctx, args[0], domain.Availability(args[1]), actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				fmt.Printf("%s now %s\n", w.ID, w.Availability)
				return nil
			})
		},
	}
}

func workerListCmd() *cobra.Command {
	var roleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListWorkers(ctx, roleID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderWorkers(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleID, "role", "", "only workers of this role")
	return cmd
}

func workerMissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missions <worker-id>",
		Short: "List the missions offered to or held by a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.MissionsForWorker(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Requirement", "Project", "Role", "Seniority", "Mission"})
				for _, m := range items {
					r := m.Requirement
					tw.AppendRow(table.Row{r.ID, r.ProjectID, r.RoleID, r.Seniority, m.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func renderWorkers(items []domain.Worker) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Role", "Name", "Seniority", "Languages", "Expertises", "Availability", "Kind"})
	for _, w := range items {
		tw.AppendRow(table.Row{w.ID, w.RoleID, w.DisplayName, w.Seniority, w.Languages, w.Expertises, w.Availability, w.Kind})
	}
	tw.Render()
}
