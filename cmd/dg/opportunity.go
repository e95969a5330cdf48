package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealguard/internal/config"
	"dealguard/internal/engine"
	"dealguard/internal/remote"
	"dealguard/internal/repo"
	"dealguard/internal/validation"
	dealguardsdk "dealguard/sdk/go"
)

func opportunityCmd() *cobra.Command {
	opp := &cobra.Command{
		Use:     "opportunity",
		Aliases: []string{"opp"},
		Short:   "Manage opportunities",
		Long:    "Opportunities are guarded: 'dg opportunity delete' runs the deletion rules first and refuses when one fails.",
	}
	opp.AddCommand(opportunityCreateCmd())
	opp.AddCommand(opportunityListCmd())
	opp.AddCommand(opportunityShowCmd())
	opp.AddCommand(opportunityUpdateCmd())
	opp.AddCommand(opportunityDeleteCmd())
	opp.AddCommand(opportunityValidateCmd())
	return opp
}

func opportunityCreateCmd() *cobra.Command {
	var opts engine.OpportunityCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an opportunity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				o, err := e.CreateOpportunity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "opportunity id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.AccountID, "account-id", "", "parent account id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "open, won or lost (default open)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func opportunityListCmd() *cobra.Command {
	var f repo.OpportunityFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListOpportunities(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Account", "Updated"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.Name, o.Status, deref(o.AccountID), o.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AccountID, "account-id", "", "account filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func opportunityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an opportunity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOpportunity(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func opportunityUpdateCmd() *cobra.Command {
	var name, accountID, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an opportunity",
		Long:  "Updates are never guarded. Pass --account-id \"\" to clear the account.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.OpportunityUpdateOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("account-id") {
				opts.AccountID = &accountID
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOpportunity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&accountID, "account-id", "", "account id")
	cmd.Flags().StringVar(&status, "status", "", "open, won or lost")
	return cmd
}

func opportunityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an opportunity if no deletion rule blocks it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteOpportunity(ctx, args[0], actorID()); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func opportunityValidateCmd() *cobra.Command {
	var remoteURL string
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Dry-run the deletion rules for an opportunity",
		Long: `Evaluates the enabled rules without deleting anything.
With --remote the rules from the local dealguard.yml run against the records of a dealguard server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var res validation.Result
			if remoteURL != "" {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				client := dealguardsdk.New(remoteURL)
				client.APIKey = viper.GetString("api-key")
				client.ActorID = actorID()
				svc, err := validation.FromConfig(cfg.Rules, remote.New(client))
				if err != nil {
					return err
				}
				if res, err = svc.Validate(ctx, args[0]); err != nil {
					return err
				}
				return printValidation(args[0], res)
			}
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				var err error
				if res, err = e.ValidateOpportunityDeletion(ctx, args[0]); err != nil {
					return err
				}
				return printValidation(args[0], res)
			})
		},
	}
	cmd.Flags().StringVar(&remoteURL, "remote", "", "dealguard server URL to read records from")
	cmd.Flags().String("api-key", "", "API key for --remote (or DEALGUARD_API_KEY)")
	_ = viper.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func printValidation(id string, res validation.Result) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"opportunity_id": id,
			"allowed":        res.Allowed,
			"reason":         res.Reason,
			"reason_class":   res.Class,
			"rule":           res.Rule,
		})
	}
	if res.Allowed {
		fmt.Printf("%s: deletion allowed\n", id)
		return nil
	}
	fmt.Printf("%s: deletion blocked by %s (%s)\n  %s\n", id, res.Rule, res.Class, res.Reason)
	return nil
}
