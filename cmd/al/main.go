package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adoptline/internal/app"
	"adoptline/internal/catalog"
	"adoptline/internal/config"
	"adoptline/internal/criteria"
	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/logging"
	"adoptline/internal/repo"
	"adoptline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "adoptline CLI",
	Long: `adoptline keeps customer adoption plans in line with their license entitlements.
Core concepts:
- Catalog: products, their task templates (weight, license tier, outcomes, releases, telemetry attributes) and customer entitlements. Load it with 'al catalog apply'.
- Adoption plan: one per entitlement. Sync adds a task for every eligible template and retires tasks whose template is no longer eligible.
- Telemetry: values recorded against a task's attributes. Evaluation checks them against each attribute's success criteria and completes the task when every required attribute is met.
- Manual status: DONE, NOT_APPLICABLE and NO_LONGER_USING always win over evaluation.
- Progress: completed weight over total weight of the plan's live tasks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile := filepath.Join(viper.GetString("workspace"), ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ADOPTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (defaults to <workspace>/adoptline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("db-driver", "", "database driver: sqlite or postgres")
	flags.String("dsn", "", "database DSN (required for postgres)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", flags.Lookup("dsn"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(telemetryCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Load products, templates and entitlements",
		Long:  "The catalog file lists products with their task templates and the customer entitlements. Applying it upserts everything, deactivates templates missing from the file and flags affected plans for sync.",
	}
	cat.AddCommand(catalogApplyCmd())
	cat.AddCommand(catalogValidateCmd())
	return cat
}

func catalogApplyCmd() *cobra.Command {
	var syncAfter bool
	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				e := rt.Engine
				res, err := catalog.Apply(ctx, e.Repo, f, domain.FormatTime(time.Now()))
				if err != nil {
					return err
				}
				out := map[string]any{"catalog": res}
				if syncAfter {
					report, err := e.SynchronizeAll(ctx, engine.BatchOptions{NeedsSyncOnly: true})
					if err != nil {
						return err
					}
					out["sync"] = report
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Products: %d\nTemplates changed: %d\nTemplates deactivated: %d\nEntitlements changed: %d\nPlans created: %d\nPlans flagged for sync: %d\n",
					res.Products, res.TemplatesChanged, res.TemplatesDeactivated, res.EntitlementsChanged, len(res.PlansCreated), res.PlansFlagged)
				if report, ok := out["sync"].(engine.BatchReport); ok {
					printBatchReport(report)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "synchronize flagged plans after applying")
	return cmd
}

func catalogValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a catalog file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.Load(args[0])
			if err == nil {
				err = f.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("catalog OK")
			return nil
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Inspect and synchronize adoption plans"}
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planEnsureCmd())
	plan.AddCommand(planTasksCmd())
	plan.AddCommand(planProgressCmd())
	plan.AddCommand(planSyncCmd())
	plan.AddCommand(planSyncAllCmd())
	plan.AddCommand(planEvaluateCmd())
	return plan
}

func planListCmd() *cobra.Command {
	var f repo.PlanFilters
	var needsSync bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("needs-sync") {
				f.NeedsSync = &needsSync
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				plans, err := rt.Engine.ListPlans(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Customer", "Product", "Needs Sync", "Progress", "Last Synced"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, p.CustomerID, p.ProductID, p.NeedsSync, progressBar(p.ProgressPercentage, 20), stringOrDash(p.LastSyncedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CustomerID, "customer", "", "customer filter")
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product filter")
	cmd.Flags().BoolVar(&needsSync, "needs-sync", false, "only plans flagged (or, with =false, not flagged) for sync")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of plans")
	return cmd
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				p, err := rt.Engine.GetPlan(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func planEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <entitlement-id>",
		Short: "Create the plan for an entitlement if it has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				p, created, err := rt.Engine.EnsurePlan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"plan": p, "created": created})
				}
				if created {
					fmt.Printf("Created plan %s for %s\n", p.ID, args[0])
				} else {
					fmt.Printf("Plan %s already exists for %s\n", p.ID, args[0])
				}
				return nil
			})
		},
	}
}

func planTasksCmd() *cobra.Command {
	var includeRetired bool
	cmd := &cobra.Command{
		Use:   "tasks <plan-id>",
		Short: "List a plan's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				tasks, err := rt.Engine.ListTasks(ctx, args[0], includeRetired)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeRetired, "include-retired", false, "include retired tasks")
	return cmd
}

func planProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <plan-id>",
		Short: "Show weighted plan progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				summary, err := rt.Engine.ComputeProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Println(headingStyle.Render("Plan " + args[0]))
				fmt.Println(progressBar(summary.ProgressPercentage, 40))
				fmt.Printf("Weight: %.2f of %.2f\nTasks: %d of %d complete (%d retired)\n",
					summary.CompletedWeight, summary.TotalWeight, summary.CompletedCount, summary.TaskCount, summary.RetiredCount)
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "Tasks"})
				for _, st := range domain.Statuses {
					if n := summary.StatusBreakdown[st]; n > 0 {
						tw.AppendRow(table.Row{st, n})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func planSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <plan-id>",
		Short: "Synchronize a plan with its entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				report, err := rt.Engine.Synchronize(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printSyncReport(report)
				return nil
			})
		},
	}
}

func planSyncAllCmd() *cobra.Command {
	var opts engine.BatchOptions
	cmd := &cobra.Command{
		Use:   "sync-all [plan-id...]",
		Short: "Synchronize many plans in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PlanIDs = args
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				report, err := rt.Engine.SynchronizeAll(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printBatchReport(report)
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d plans failed to sync", report.Failed, len(report.Results))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.NeedsSyncOnly, "needs-sync-only", false, "only plans flagged for sync")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "plans synchronized at once (defaults to sync.concurrency)")
	return cmd
}

func planEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <plan-id>",
		Short: "Evaluate telemetry for every live task of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				results, err := rt.Engine.EvaluatePlan(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				printEvaluations(results)
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect and update task instances"}
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEvaluateCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Println(headingStyle.Render(t.Name))
				fmt.Printf("ID: %s\nPlan: %s\nTemplate: %s\nWeight: %.2f\nStatus: %s (%s)\n",
					t.ID, t.PlanID, t.TemplateID, t.Weight, t.Status, t.StatusUpdateSource)
				if t.StatusNotes != "" {
					fmt.Printf("Notes: %s\n", t.StatusNotes)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Attribute ID", "Name", "Type", "Required", "Criterion", "Active"})
				for _, a := range t.Attributes {
					tw.AppendRow(table.Row{a.ID, a.Name, a.DataType, a.Required, criteria.Describe(a.Criterion.Criterion), a.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <task-id>",
		Short: "Evaluate a task's telemetry against its success criteria",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				res, err := rt.Engine.EvaluateTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printEvaluations([]engine.EvaluationResult{res})
				tw := newTable()
				tw.AppendHeader(table.Row{"Attribute", "Required", "Criterion", "Value", "Match"})
				for _, a := range res.Attributes {
					tw.AppendRow(table.Row{a.Name, a.Required, a.Criterion, string(a.Value), a.Match})
				}
				tw.Render()
				for _, w := range res.Warnings {
					fmt.Println(warnStyle.Render("warning: " + w))
				}
				return nil
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set a task status manually",
		Long:  "Valid statuses: NOT_STARTED, IN_PROGRESS, COMPLETED, DONE, NOT_APPLICABLE, NO_LONGER_USING. RETIRED is set by sync only.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				t, err := rt.Engine.UpdateTaskStatus(ctx, engine.StatusUpdate{
					TaskInstanceID: args[0],
					Status:         domain.Status(args[1]),
					Notes:          notes,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s is now %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "status notes")
	return cmd
}

func telemetryCmd() *cobra.Command {
	tel := &cobra.Command{Use: "telemetry", Short: "Record and inspect telemetry values"}
	tel.AddCommand(telemetryRecordCmd())
	tel.AddCommand(telemetryHistoryCmd())
	return tel
}

func telemetryRecordCmd() *cobra.Command {
	var notes string
	var evaluate bool
	cmd := &cobra.Command{
		Use:   "record <attribute-id> <json-value>",
		Short: "Append a telemetry value",
		Long:  `The value is a JSON document: true, 12, "enabled" or {"apps": 4}.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				e := rt.Engine
				v, err := e.RecordTelemetryValue(ctx, engine.TelemetryInput{
					AttributeID: args[0],
					Value:       json.RawMessage(args[1]),
					Notes:       notes,
				})
				if err != nil {
					return err
				}
				out := map[string]any{"value": v}
				if evaluate {
					attr, err := e.Repo.GetAttribute(ctx, v.AttributeID)
					if err != nil {
						return err
					}
					res, err := e.EvaluateTask(ctx, attr.TaskInstanceID)
					if err != nil {
						return err
					}
					out["evaluation"] = res
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Recorded %s = %s\n", v.AttributeID, string(v.Value))
				if res, ok := out["evaluation"].(engine.EvaluationResult); ok {
					printEvaluations([]engine.EvaluationResult{res})
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "value notes")
	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "evaluate the owning task after recording")
	return cmd
}

func telemetryHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <attribute-id>",
		Short: "List an attribute's values, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				values, err := rt.Engine.ListTelemetryValues(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(values)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Recorded", "Value", "Notes"})
				for _, v := range values {
					tw.AppendRow(table.Row{v.CreatedAt, string(v.Value), v.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of values")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect adoptline.yml",
		Long:  "Config selects the database, logging, batch sync concurrency and HTTP server settings. Flags and ADOPTLINE_* environment variables override the file.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default adoptline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:         rt.Engine,
					BasePath:       basePath,
					AllowedOrigins: cfg.Server.AllowedOrigins,
					Log:            rt.Engine.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Engine.Log.Info("serving adoptline API", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving adoptline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

// loadConfig reads the config file, then overlays flags and ADOPTLINE_*
// environment variables.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	overlay := map[string]*string{
		"database.driver": &cfg.Database.Driver,
		"database.dsn":    &cfg.Database.DSN,
		"log.level":       &cfg.Log.Level,
		"log.format":      &cfg.Log.Format,
	}
	for key, dst := range overlay {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if n := viper.GetInt("sync.concurrency"); n > 0 {
		cfg.Sync.Concurrency = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withRuntime(ctx context.Context, fn func(context.Context, app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: os.Stderr})
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
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

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stringOrDash(ptr *string) string {
	if ptr == nil || *ptr == "" {
		return "-"
	}
	return *ptr
}
