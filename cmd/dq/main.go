package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimcheck/internal/config"
	"claimcheck/internal/db"
	"claimcheck/internal/domain"
	"claimcheck/internal/engine"
	"claimcheck/internal/migrate"
	"claimcheck/internal/repo"
	"claimcheck/internal/server"
	"claimcheck/internal/source"
)

var rootCmd = &cobra.Command{
	Use:   "dq",
	Short: "Claimcheck CLI",
	Long: `Claimcheck validates claim records against declarative data-quality rules
and turns the persisted failures into weighted risk reports.

- Workspace: the .claimcheck directory holding the database; configuration
  lives in claimcheck.yml next to it.
- Claims: the transactional records under validation, imported from CSV.
- Providers: reference data that referential-integrity rules check against.
- Rules: built-in checks, each with a category and a severity; severities
  map to weights in claimcheck.yml.
- Runs: one execution of every enabled rule over the current claims.
  Re-running is idempotent; a (rule, record) pair is only recorded once.
- Reports: per-rule impact, category risk, severity distribution, and the
  executive scorecard with the overall quality score.
- Event log: diary of imports, runs, and resets; view with 'dq log tail'.`,
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLAIMCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(claimsCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(failuresCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func claimsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "claims", Short: "Manage claim records"}
	cmd.AddCommand(claimsImportCmd())
	cmd.AddCommand(claimsListCmd())
	return cmd
}

func claimsImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import claims from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				imp := source.Importer{Repo: e.Repo, Events: e.Events}
				n, err := imp.ImportClaims(ctx, f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("imported %d claims\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func claimsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				claims, err := e.Repo.ListClaims(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Patient", "Provider", "Amount", "Service Date", "Status"})
				for _, c := range claims {
					provider := ""
					if c.ProviderID != nil {
						provider = *c.ProviderID
					}
					amount := ""
					if c.Amount != nil {
						amount = fmt.Sprintf("%.2f", *c.Amount)
					}
					service := ""
					if c.ServiceDate != nil {
						service = *c.ServiceDate
					}
					tw.AppendRow(table.Row{c.ID, c.PatientID, provider, amount, service, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "providers", Short: "Manage provider reference data"}
	cmd.AddCommand(providersImportCmd())
	cmd.AddCommand(providersListCmd())
	return cmd
}

func providersImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import providers from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				imp := source.Importer{Repo: e.Repo, Events: e.Events}
				n, err := imp.ImportProviders(ctx, f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("imported %d providers\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func providersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				providers, err := e.Repo.ListProviders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(providers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Specialty", "Active"})
				for _, p := range providers {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Specialty, p.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Rule catalog"}
	cmd.AddCommand(rulesListCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered rules with weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				weights := e.Config.WeightTable()
				disabled := e.Config.DisabledRules()
				if viper.GetBool("json") {
					return printJSON(e.Registry.List(nil))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Severity", "Weight", "Enabled"})
				for _, r := range e.Registry.List(nil) {
					w, err := weights.Weight(r.Severity)
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{r.ID, r.Name, r.Category, r.Severity, w, !disabled[r.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate all enabled rules against the current claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Run(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("run %s %s: %d rules over %d records, %d new failures\n",
					run.ID, run.Status, run.RulesEvaluated, run.RecordsScanned, run.NewFailures)
				return nil
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Weighted risk reports"}
	cmd.AddCommand(reportRulesCmd())
	cmd.AddCommand(reportCategoriesCmd())
	cmd.AddCommand(reportSeveritiesCmd())
	cmd.AddCommand(reportScorecardCmd())
	return cmd
}

func reportRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Per-rule failure counts and weighted impact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.RuleSummaries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rule", "Category", "Severity", "Failures", "Impact"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.RuleID, r.Category, r.Severity, r.FailureCount, r.WeightedImpact})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Risk score per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.CategoryRisks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Risk Score"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Category, r.RiskScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportSeveritiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "severities",
		Short: "Failure counts by severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.SeverityDistribution(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Severity", "Failures"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Severity, r.FailureCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportScorecardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scorecard",
		Short: "Executive data quality scorecard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				card, err := e.Scorecard(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(card)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"Total records", card.TotalRecords})
				tw.AppendRow(table.Row{"Records with issues", card.RecordsWithIssues})
				tw.AppendRow(table.Row{"High severity issues", card.HighSeverityIssues})
				tw.AppendRow(table.Row{"Quality score", fmt.Sprintf("%.2f", card.QualityScore)})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func failuresCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "failures", Short: "Persisted validation failures"}
	cmd.AddCommand(failuresListCmd())
	return cmd
}

func failuresListCmd() *cobra.Command {
	var filter repo.FailureFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List validation failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				failures, err := e.Repo.ListFailures(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(failures)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rule", "Record", "Category", "Severity", "Reason", "Detected"})
				for _, f := range failures {
					tw.AppendRow(table.Row{f.RuleID, f.RecordID, f.Category, f.Severity, f.Reason, f.DetectedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.RecordID, "record", "", "record id filter")
	cmd.Flags().StringVar(&filter.RuleID, "rule", "", "rule id filter")
	cmd.Flags().StringVar(&filter.Category, "category", "", "category filter")
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all persisted failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Reset(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d failures\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API key management"}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key := uuid.NewString()
				err := e.Repo.InsertAPIKey(ctx, domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				})
				if err != nil {
					return err
				}
				// The raw key is shown once; only its hash is stored.
				fmt.Println(key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e, err := engine.New(conn, cfg)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CLAIMCHECK_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("CLAIMCHECK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhooks(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Claimcheck API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e)
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
