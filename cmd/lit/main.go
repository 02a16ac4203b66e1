package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"listingintel/internal/app"
	"listingintel/internal/config"
	"listingintel/internal/db"
	"listingintel/internal/domain"
	"listingintel/internal/engine"
	"listingintel/internal/exporter"
	"listingintel/internal/notify"
	"listingintel/internal/repo"
	"listingintel/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lit",
	Short: "Listing intelligence CLI",
	Long: `lit captures marketplace listing URLs and turns extracted listings into price intelligence.
Core concepts:
- Submission: a captured URL waiting in the queue; statuses go pending -> processing -> processed, or failed.
- Extraction: an external worker fetches the page and hands back a structured listing ('lit complete').
- Ledger: every processed listing adds a price observation keyed by URL; the second sighting of a URL is a duplicate.
- Opportunity: a price drop between the latest two observations, scored and tiered urgent, medium or monitor.
- Completeness: which listing details are missing and what to ask the seller.
- Event log: diary of changes, view with 'lit log tail'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LISTINGINTEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(failCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func submitCmd() *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Capture a listing URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.Submit(ctx, args[0], origin)
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", domain.OriginManual, "manual|automated")
	return cmd
}

func listCmd() *cobra.Command {
	var f repo.SubmissionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions in FIFO order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "URL", "Status", "Priority", "Submitted"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.URL, s.Status, s.Priority, s.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter (high|normal)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}

func completeCmd() *cobra.Command {
	var file string
	var rec domain.ListingRecord
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Hand over an extracted listing and run the pipeline",
		Long:  "Reads the listing from --file (JSON) and/or flags; flags win over the file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := listingFromFlags(cmd, file, rec)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.Complete(ctx, args[0], listing)
				if err != nil && !engine.Partial(err) {
					return err
				}
				if err != nil {
					fmt.Fprintln(os.Stderr, "warning:", err)
				}
				return printJSONOrTable(sub)
			})
		},
	}
	addListingFlags(cmd, &file, &rec)
	return cmd
}

func failCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Report an extraction failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.Fail(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	var clearAfter bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot pending submissions for the enhancement batch job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				snap, err := ws.Engine.Export(ctx, clearAfter || ws.Config.Export.Clear)
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(snap)
				}
				if out == "auto" {
					out = filepath.Join(ws.ExportDir(), exporter.FileName(time.Now()))
				}
				if err := exporter.WriteFile(out, snap); err != nil {
					return err
				}
				fmt.Printf("exported %d submissions to %s\n", snap.Total, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write to file ('auto' names it in the export dir)")
	cmd.Flags().BoolVar(&clearAfter, "clear", false, "delete exported submissions")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and ledger counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountSubmissionsByStatus(ctx)
				if err != nil {
					return err
				}
				listings, err := e.Ledger.Listings(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"submissions": counts, "tracked_listings": len(listings)})
				}
				fmt.Println("Submissions:")
				for _, status := range []string{domain.StatusPending, domain.StatusProcessing, domain.StatusProcessed, domain.StatusFailed} {
					fmt.Printf("  %s: %d\n", status, counts[status])
				}
				fmt.Printf("Tracked listings: %d\n", len(listings))
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <url>",
		Short: "Show price observations for a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				history, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Observed", "Price", "Change", "Type"})
				for _, o := range history {
					change := ""
					if o.PriceChange != nil {
						change = fmt.Sprintf("%+.2f", *o.PriceChange)
					}
					tw.AppendRow(table.Row{o.ObservedAt.Format(time.RFC3339), fmt.Sprintf("%.2f", o.Price), change, o.ChangeType})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <url>",
		Short: "Summarize a listing's price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <url>",
		Short: "Score the latest price move of a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Score(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func alertsCmd() *cobra.Command {
	var minDrop float64
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List current price drops, best score first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alerts, err := e.Alerts(ctx, minDrop)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tier", "Drop", "Previous", "Latest", "URL"})
				for _, a := range alerts {
					tw.AppendRow(table.Row{a.Tier, fmt.Sprintf("%.1f%%", a.PercentDelta*100), fmt.Sprintf("%.2f", a.PreviousPrice), fmt.Sprintf("%.2f", a.LatestPrice), a.URL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minDrop, "min-drop", 0, "minimum drop as a fraction (default from config)")
	return cmd
}

func insightsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Market trend counts and top opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.Insights(ctx, top)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of top opportunities")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var file string
	var rec domain.ListingRecord
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report missing listing details and questions for the seller",
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := listingFromFlags(cmd, file, rec)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a := e.Analyze(listing)
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("Completeness: %d%% (%d critical missing)\n", a.CompletenessPct, a.CriticalMissing)
				for _, q := range a.Questions {
					fmt.Println("  -", q)
				}
				return nil
			})
		},
	}
	addListingFlags(cmd, &file, &rec)
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.EventLog(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage listingintel.yml and .env",
		Long:  "listingintel.yml holds thresholds, export schedule and notifier settings. Secrets (Slack webhook, Redis password, JWT secret) belong in the workspace .env.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configSetEnvCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default listingintel.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
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

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
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
		Short: "Validate listingintel.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configSetEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-env <KEY> <VALUE>",
		Short: "Set a secret in the workspace .env",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), app.EnvFile)
			env, err := godotenv.Read(path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if env == nil {
				env = map[string]string{}
			}
			env[args[0]] = args[1]
			if err := godotenv.Write(env, path); err != nil {
				return err
			}
			fmt.Printf("set %s in %s\n", args[0], path)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a capture client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.LoadEnv(viper.GetString("workspace")); err != nil {
				return err
			}
			token, err := server.SignToken(os.Getenv(app.EnvJWTSecret), subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "client name")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{server.ScopeRead, server.ScopeWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 never expires)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, export schedule and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg := ws.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: os.Getenv(app.EnvJWTSecret), Logger: ws.Log},
					Limits: server.RateLimitConfig{
						RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
						Burst:             cfg.Server.RateLimit.Burst,
					},
					Recent: ws.Redis,
					Log:    ws.Log,
				})
				if err != nil {
					return err
				}

				if strings.TrimSpace(cfg.Export.Schedule) != "" {
					sched, err := exporter.NewScheduler(cfg.Export.Schedule, ws.ExportDir(), func(ctx context.Context) (domain.ExportSnapshot, error) {
						return ws.Engine.Export(ctx, cfg.Export.Clear)
					}, ws.Log.With("component", "exporter"))
					if err != nil {
						return err
					}
					go sched.Run(ctx)
				}
				if len(cfg.Notify.Webhooks) > 0 {
					d := notify.NewDispatcher(ws.Engine.Repo, cfg.Notify.Webhooks, ws.Log.With("component", "webhooks"))
					go d.Run(ctx)
				}

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				ws.Log.Info("serving listing intelligence API", "addr", addr, "base_path", basePath, "auth", os.Getenv(app.EnvJWTSecret) != "")
				fmt.Printf("Serving on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func addListingFlags(cmd *cobra.Command, file *string, rec *domain.ListingRecord) {
	cmd.Flags().StringVar(file, "file", "", "listing JSON file ('-' for stdin)")
	cmd.Flags().StringVar(&rec.URL, "url", "", "listing url")
	cmd.Flags().StringVar(&rec.Title, "title", "", "listing title")
	cmd.Flags().StringVar(&rec.Description, "description", "", "listing description")
	cmd.Flags().Float64Var(&rec.Price, "price", 0, "asking price")
	cmd.Flags().StringVar(&rec.Location, "location", "", "listing location")
}

func listingFromFlags(cmd *cobra.Command, file string, flags domain.ListingRecord) (domain.ListingRecord, error) {
	var rec domain.ListingRecord
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return rec, err
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return rec, fmt.Errorf("parse %s: %w", file, err)
		}
	}
	set := cmd.Flags().Changed
	if set("url") {
		rec.URL = flags.URL
	}
	if set("title") {
		rec.Title = flags.Title
	}
	if set("description") {
		rec.Description = flags.Description
	}
	if set("price") {
		rec.Price = flags.Price
	}
	if set("location") {
		rec.Location = flags.Location
	}
	return rec, nil
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
