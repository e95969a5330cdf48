package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealguard/internal/engine"
	"dealguard/internal/query"
)

func accountCmd() *cobra.Command {
	acct := &cobra.Command{Use: "account", Short: "Manage accounts"}
	acct.AddCommand(accountCreateCmd())
	acct.AddCommand(accountListCmd())
	return acct
}

func accountCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAccount(ctx, id, name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func accountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAccounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func quoteCmd() *cobra.Command {
	q := &cobra.Command{Use: "quote", Short: "Manage quotes"}
	q.AddCommand(quoteCreateCmd())
	q.AddCommand(quoteListCmd())
	q.AddCommand(quoteDeleteCmd())
	return q
}

func quoteCreateCmd() *cobra.Command {
	var opts engine.QuoteCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a quote for an opportunity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				q, err := e.CreateQuote(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "quote id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.OpportunityID, "opportunity-id", "", "opportunity id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (default draft)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("opportunity-id")
	return cmd
}

func quoteListCmd() *cobra.Command {
	var opportunityID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListQuotes(ctx, opportunityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Opportunity", "Status"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, q.Name, q.OpportunityID, q.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opportunityID, "opportunity-id", "", "opportunity filter")
	return cmd
}

func quoteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteQuote(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	c.AddCommand(contractCreateCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractStateCmd())
	return c
}

func contractCreateCmd() *cobra.Command {
	var opts engine.ContractCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				c, err := e.CreateContract(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "contract id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.AccountID, "account-id", "", "account id")
	cmd.Flags().StringVar(&opts.State, "state", "", "draft, invoiced, active, on_hold, canceled or expired (default draft)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("account-id")
	return cmd
}

func contractListCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListContracts(ctx, accountID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Account", "State"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.AccountID, c.State})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account-id", "", "account filter")
	return cmd
}

func contractStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <id> <state>",
		Short: "Change a contract's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetContractState(ctx, args[0], args[1], actorID()); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func queryCmd() *cobra.Command {
	var eq, ne, in []string
	var isNull, notNull, columns []string
	var top int
	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Run a filtered record query",
		Long: `Reads records the way the deletion rules do. At least one condition is required.
Example: dg query quote --eq opportunity_id=<id> --top 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := buildExpression(args[0], eq, ne, in, isNull, notNull)
			if err != nil {
				return err
			}
			expr = expr.Select(columns...).Limit(top)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.Query(ctx, expr)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				cols := columns
				if len(cols) == 0 && len(items) > 0 {
					for k := range items[0].Attributes {
						cols = append(cols, k)
					}
					sort.Strings(cols)
				}
				header := table.Row{"ID"}
				for _, c := range cols {
					header = append(header, c)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(header)
				for _, it := range items {
					row := table.Row{it.ID}
					for _, c := range cols {
						row = append(row, it.Attributes[c])
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&eq, "eq", nil, "attribute=value")
	cmd.Flags().StringArrayVar(&ne, "ne", nil, "attribute=value")
	cmd.Flags().StringArrayVar(&in, "in", nil, "attribute=v1,v2")
	cmd.Flags().StringArrayVar(&isNull, "null", nil, "attribute that must be null")
	cmd.Flags().StringArrayVar(&notNull, "not-null", nil, "attribute that must be set")
	cmd.Flags().StringSliceVar(&columns, "select", nil, "columns to return")
	cmd.Flags().IntVar(&top, "top", 0, "max rows")
	return cmd
}

func buildExpression(entity string, eq, ne, in, isNull, notNull []string) (query.Expression, error) {
	expr := query.Expression{Entity: entity}
	pairs := []struct {
		op   query.Operator
		args []string
	}{{query.Equal, eq}, {query.NotEqual, ne}, {query.In, in}}
	for _, p := range pairs {
		for _, arg := range p.args {
			attr, value, ok := strings.Cut(arg, "=")
			if !ok || attr == "" {
				return query.Expression{}, fmt.Errorf("invalid condition %q, want attribute=value", arg)
			}
			var values []any
			if p.op == query.In {
				for _, v := range strings.Split(value, ",") {
					values = append(values, v)
				}
			} else {
				values = []any{value}
			}
			expr = expr.And(attr, p.op, values...)
		}
	}
	for _, attr := range isNull {
		expr = expr.And(attr, query.Null)
	}
	for _, attr := range notNull {
		expr = expr.And(attr, query.NotNull)
	}
	return expr, expr.Validate()
}
