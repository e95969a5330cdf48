package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealguard/internal/app"
	"dealguard/internal/db"
	"dealguard/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "dg",
	Short: "dealguard CLI",
	Long: `dealguard keeps CRM records from being deleted while other records still depend on them.
Core concepts:
- Workspace: a directory holding dealguard.yml and, for the sqlite store, dealguard.db.
- Records: accounts, opportunities, quotes and contracts.
- Deletion guard: runs before every opportunity delete and evaluates the enabled rules in order.
- Rules: quote_dependency (no quotes may reference the opportunity), won_status (won deals stay),
  active_contract (the opportunity's account has no active contract). The first failing rule blocks the delete.
- Event log: every change and every blocked delete, view with 'dg log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DEALGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("store-driver", "", "record store driver (sqlite or postgres); overrides dealguard.yml")
	flags.String("store-dsn", "", "record store DSN; overrides dealguard.yml")
	flags.BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "store-driver", "store-dsn", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(opportunityCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func openWorkspace(ctx context.Context) (*app.Workspace, error) {
	return app.Open(ctx, viper.GetString("workspace"), viper.GetString("store-driver"), viper.GetString("store-dsn"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineOptions(ctx, engine.Options{}, fn)
}

func withEngineOptions(ctx context.Context, opts engine.Options, fn func(context.Context, engine.Engine) error) error {
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	e, err := engine.New(ws.DB, ws.Dialect, ws.Config, opts)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
