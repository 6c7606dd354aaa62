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

func requirementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requirement", Aliases: []string{"req"}, Short: "Manage role requirements and bookings"}
	cmd.AddCommand(requirementCreateCmd())
	cmd.AddCommand(requirementListCmd())
	cmd.AddCommand(requirementShowCmd())
	cmd.AddCommand(requirementOpenCmd())
	cmd.AddCommand(requirementClaimCmd())
	cmd.AddCommand(requirementDeclineCmd())
	cmd.AddCommand(requirementExpireCmd())
	cmd.AddCommand(requirementAutoAcceptCmd())
	cmd.AddCommand(requirementEligibleCmd())
	cmd.AddCommand(requirementClaimsCmd())
	return cmd
}

func requirementCreateCmd() *cobra.Command {
	var projectID, roleID, seniority string
	var languages, expertises []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a draft requirement to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.CreateRequirement(ctx, engine.RequirementOptions{
					ProjectID:  projectID,
					RoleID:     roleID,
					Seniority:  domain.Seniority(seniority),
					Languages:  languages,
					Expertises: expertises,
					ActorID:    actor(),
				})
				if err != nil {
					return err
				}
				return printRequirement(req)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&roleID, "role", "", "role id from the catalog")
	cmd.Flags().StringVar(&seniority, "seniority", "", "junior|intermediate|senior|expert")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "required language (repeatable)")
	cmd.Flags().StringSliceVar(&expertises, "expertise", nil, "required expertise (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("seniority")
	return cmd
}

func requirementListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the requirements of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetProject(ctx, projectID); err != nil {
					return err
				}
				reqs, err := a.Engine.Repo.ListRequirementsByProject(ctx, a.DB, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reqs)
				}
				renderRequirements(reqs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func requirementShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <requirement-id>",
		Short: "Show a requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.Repo.GetRequirement(ctx, args[0])
				if err != nil {
					return err
				}
				return printRequirement(req)
			})
		},
	}
}

func requirementOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <requirement-id>",
		Short: "Open a draft requirement for search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.OpenForSearch(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printRequirement(req)
			})
		},
	}
}

func requirementClaimCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "claim <requirement-id>",
		Short: "Claim a searching requirement for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if workerID == "" {
					workerID = actor()
				}
				res, err := a.Engine.Claim(ctx, args[0], workerID)
				if err != nil {
					return err
				}
				return printClaim(res)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id (defaults to --actor-id)")
	return cmd
}

func requirementDeclineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <requirement-id>",
		Short: "Decline a requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.Decline(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printRequirement(req)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decline reason")
	return cmd
}

func requirementExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <requirement-id>",
		Short: "Expire a searching requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.Expire(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printRequirement(req)
			})
		},
	}
}

func requirementAutoAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-accept <requirement-id>",
		Short: "Assign a synthetic requirement to its role's synthetic worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.AutoAccept(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printClaim(res)
			})
		},
	}
}

func requirementEligibleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligible <requirement-id>",
		Short: "List the workers that currently qualify for a requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				workers, err := a.Engine.EligibleWorkers(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workers)
				}
				renderWorkers(workers)
				return nil
			})
		},
	}
}

func requirementClaimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claims <requirement-id>",
		Short: "Show the claim attempts recorded for a requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetRequirement(ctx, args[0]); err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListClaimAttempts(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Worker", "Outcome", "At"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.WorkerID, c.Outcome, c.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func printRequirement(req domain.Requirement) error {
	if viper.GetBool("json") {
		return printJSON(req)
	}
	fmt.Printf("%s  role=%s seniority=%s status=%s", req.ID, req.RoleID, req.Seniority, req.BookingStatus)
	if req.HolderID != nil {
		fmt.Printf(" holder=%s", *req.HolderID)
	}
	if req.SearchDeadline != nil {
		fmt.Printf(" deadline=%s", *req.SearchDeadline)
	}
	fmt.Println()
	return nil
}

func printClaim(res domain.ClaimResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("%s: %s\n", res.Outcome, res.Requirement.ID)
	return nil
}
