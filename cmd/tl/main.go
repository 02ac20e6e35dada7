package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"timeline/internal/app"
	"timeline/internal/config"
	"timeline/internal/document"
	"timeline/internal/domain"
	"timeline/internal/engine"
	"timeline/internal/metrics"
	"timeline/internal/repo"
	"timeline/internal/seed"
	"timeline/internal/server"
	"timeline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Timeline CLI",
	Long: `Timeline keeps a portfolio of software projects described by YAML or JSON documents
and derives health, forecasts, timelines and hour allocations from them.
- Built-in projects come from the seed artifact (.timeline/projects.json, written by 'tl fetch')
  or from the bundled samples; they are read-only.
- Imported projects are validated, normalized and persisted in the workspace; importing an
  existing id fails unless --merge is given, which replaces it or overrides a built-in copy.
- Every import and removal is journaled; view it with 'tl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
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
	viper.SetEnvPrefix("TIMELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", domain.LocalActor, "actor recorded in the journal")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("now", "", "evaluate metrics at this instant (RFC 3339 or YYYY-MM-DD)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "now"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(milestonesCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(hoursCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(ganttCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

func readDocument(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a project document without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(args[0])
			if err != nil {
				return err
			}
			data, err := document.ValidateAndParse(text)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(data)
			}
			fmt.Printf("valid: %s (%s), %d tasks\n", data.Project.ID, data.Project.Name, len(data.Tasks))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Validate and import a project document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(args[0])
			if err != nil {
				return err
			}
			mode := engine.ModeInsert
			if merge {
				mode = engine.ModeMerge
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Import(ctx, text, mode, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %s (revision %s)\n", res.Outcome, res.Project.Project.ID, res.Revision)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "replace an existing project with the same id")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *store.Filter) {
	cmd.Flags().StringVar(&f.Status, "status", store.MatchAll, "project status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", store.MatchAll, "priority filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "match name or description")
}

func listCmd() *cobra.Command {
	var f store.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items := e.List(f)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				now, err := evaluationTime(e)
				if err != nil {
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Health", "Hours", "Source"})
				for _, p := range items {
					source := "imported"
					if e.Store.IsReadOnly(p.Project.ID) {
						source = "built-in"
					}
					health := metrics.ProjectHealth(p, now)
					tw.AppendRow(table.Row{
						p.Project.ID, p.Project.Name, p.Project.Status, p.Project.Priority,
						health.Status.Label(), hoursPair(p.Project.ActualHours, p.Project.EstimatedHours), source,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.Get(args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(data)
				}
				p := data.Project
				end := "open-ended"
				if p.EndDate != nil {
					end = *p.EndDate
				}
				fmt.Printf("%s (%s)\n%s\nstatus: %s  priority: %s  %s → %s  hours: %s\n\n",
					p.Name, p.ID, p.Description, p.Status, p.Priority, p.StartDate, end,
					hoursPair(p.ActualHours, p.EstimatedHours))
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Progress", "Start", "End", "Depends on"})
				for _, t := range data.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Type, t.Status, fmt.Sprintf("%g%%", t.Progress),
						t.StartDate, t.EndDate, strings.Join(t.Dependencies, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id>",
		Short: "Remove an imported project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Remove(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Restored {
					fmt.Printf("removed %s; built-in copy restored\n", res.ID)
				} else {
					fmt.Printf("removed %s\n", res.ID)
				}
				return nil
			})
		},
	}
}

// projectMetricCmd runs fn against one project at the evaluation time.
func projectMetricCmd(use, short string, fn func(data domain.ProjectData, now time.Time) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.Get(args[0])
				if err != nil {
					return err
				}
				now, err := evaluationTime(e)
				if err != nil {
					return err
				}
				return fn(data, now)
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return projectMetricCmd("health", "Schedule and budget health", func(data domain.ProjectData, now time.Time) error {
		h := metrics.ProjectHealth(data, now)
		if viper.GetBool("json") {
			return printJSON(h)
		}
		tw := newTable()
		tw.AppendRow(table.Row{"Status", h.Status.Label()})
		tw.AppendRow(table.Row{"Schedule variance", fmt.Sprintf("%+d", h.ScheduleVariance)})
		tw.AppendRow(table.Row{"Budget variance", fmt.Sprintf("%+d", h.BudgetVariance)})
		tw.AppendRow(table.Row{"Progress (actual / expected)", fmt.Sprintf("%d%% / %d%%", h.Details.ActualProgress, h.Details.ExpectedProgress)})
		tw.AppendRow(table.Row{"Hours (actual / expected)", hoursPair(h.Details.ActualHours, float64(h.Details.ExpectedHours))})
		tw.Render()
		return nil
	})
}

func forecastCmd() *cobra.Command {
	return projectMetricCmd("forecast", "Velocity-based completion forecast", func(data domain.ProjectData, now time.Time) error {
		f := metrics.CompletionForecast(data, now)
		if viper.GetBool("json") {
			return printJSON(f)
		}
		projected := "n/a"
		if f.ProjectedDate != nil {
			projected = *f.ProjectedDate
		}
		tw := newTable()
		tw.AppendRow(table.Row{"Projected completion", projected})
		tw.AppendRow(table.Row{"Schedule", f.Message})
		tw.AppendRow(table.Row{"Confidence", f.Confidence})
		tw.AppendRow(table.Row{"Velocity (h/day)", humanize.Ftoa(f.VelocityHoursPerDay)})
		tw.AppendRow(table.Row{"Remaining hours", humanize.Commaf(f.RemainingHours)})
		tw.AppendRow(table.Row{"Completion", fmt.Sprintf("%d%%", f.CompletionPercentage)})
		tw.AppendRow(table.Row{"Tone", metrics.ForecastTone(f)})
		tw.Render()
		return nil
	})
}

func timelineCmd() *cobra.Command {
	return projectMetricCmd("timeline", "Position of today within the project span", func(data domain.ProjectData, now time.Time) error {
		pos := metrics.ProjectPosition(data.Project, now)
		marks := metrics.MilestonePositions(data)
		if viper.GetBool("json") {
			return printJSON(map[string]any{"position": pos, "milestones": marks})
		}
		fmt.Println(renderBar(pos, marks, 50))
		switch {
		case pos.TotalDays == 0:
			fmt.Println("open-ended project")
		case pos.IsBeforeStart:
			fmt.Printf("not started (%d days planned)\n", pos.TotalDays)
		case pos.IsPastEnd:
			fmt.Printf("past end date (%d days planned)\n", pos.TotalDays)
		default:
			fmt.Printf("day %d of %d (%d%%)\n", pos.DayNumber, pos.TotalDays, pos.Percentage)
		}
		for _, m := range marks {
			mark := "◆"
			if m.Completed {
				mark = "◇"
			}
			fmt.Printf("  %s %s %s\n", mark, m.Date, m.Name)
		}
		return nil
	})
}

func renderBar(pos metrics.Position, marks []metrics.MilestonePosition, width int) string {
	bar := []rune(strings.Repeat("─", width))
	for _, m := range marks {
		i := m.Percentage * (width - 1) / 100
		bar[i] = '◆'
	}
	if pos.TotalDays > 0 && !pos.IsBeforeStart {
		i := pos.Percentage * (width - 1) / 100
		bar[i] = '▼'
	}
	return "[" + string(bar) + "]"
}

func milestonesCmd() *cobra.Command {
	var limit int
	cmd := projectMetricCmd("milestones", "Upcoming milestones and what blocks them", func(data domain.ProjectData, now time.Time) error {
		items := metrics.UpcomingMilestones(data.Tasks, now, limit)
		if viper.GetBool("json") {
			return printJSON(items)
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Milestone", "Due", "When", "Blocked by"})
		for _, m := range items {
			tw.AppendRow(table.Row{m.Milestone.Name, m.Milestone.EndDate, m.Label, strings.Join(m.BlockedBy, ", ")})
		}
		tw.Render()
		return nil
	})
	cmd.Flags().IntVar(&limit, "limit", metrics.DefaultUpcomingLimit, "number of milestones")
	return cmd
}

func statsCmd() *cobra.Command {
	return projectMetricCmd("stats", "Task counts by status", func(data domain.ProjectData, _ time.Time) error {
		s := metrics.CountTasks(data.Tasks)
		if viper.GetBool("json") {
			return printJSON(s)
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Status", "Tasks", "Share"})
		tw.AppendRow(table.Row{"completed", s.Completed, fmt.Sprintf("%d%%", s.PctCompleted)})
		tw.AppendRow(table.Row{"in progress", s.InProgress, fmt.Sprintf("%d%%", s.PctInProgress)})
		tw.AppendRow(table.Row{"blocked", s.Blocked, fmt.Sprintf("%d%%", s.PctBlocked)})
		tw.AppendRow(table.Row{"pending", s.Pending, fmt.Sprintf("%d%%", s.PctPending)})
		tw.AppendFooter(table.Row{"total", s.Total, ""})
		tw.Render()
		return nil
	})
}

func reportCmd() *cobra.Command {
	return projectMetricCmd("report", "All metrics for one project", func(data domain.ProjectData, now time.Time) error {
		return printJSONOrTable(metrics.Analyze(data, now))
	})
}

func activityCmd() *cobra.Command {
	return projectMetricCmd("activity", "Activity derived from task dates, newest first", func(data domain.ProjectData, _ time.Time) error {
		items := metrics.ActivityLog(data)
		if viper.GetBool("json") {
			return printJSON(items)
		}
		tw := newTable()
		tw.AppendHeader(table.Row{"Date", "Type", "Message"})
		for _, a := range items {
			tw.AppendRow(table.Row{a.Date, a.Kind, a.Message})
		}
		tw.Render()
		return nil
	})
}

func hoursCmd() *cobra.Command {
	var f store.Filter
	cmd := &cobra.Command{
		Use:   "hours",
		Short: "Planned and spent hours per month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now, err := evaluationTime(e)
				if err != nil {
					return err
				}
				months := e.MonthlyHours(f, now)
				if viper.GetBool("json") {
					return printJSON(months)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Month", "Planned", "Spent", "Projects"})
				for _, m := range months {
					names := make([]string, 0, len(m.Projects))
					for _, c := range m.Projects {
						names = append(names, fmt.Sprintf("%s (%s)", c.ProjectName, humanize.Ftoa(c.Hours)))
					}
					tw.AppendRow(table.Row{m.Month, humanize.Commaf(m.Estimated), humanize.Commaf(m.Actual), strings.Join(names, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	return cmd
}

func summaryCmd() *cobra.Command {
	var f store.Filter
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Hour totals and status counts across projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s := e.Summary(f)
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable()
				tw.AppendRow(table.Row{"Projects", s.ProjectCount})
				tw.AppendRow(table.Row{"Estimated hours", humanize.Commaf(s.TotalEstimated)})
				tw.AppendRow(table.Row{"Actual hours", humanize.Commaf(s.TotalActual)})
				tw.AppendRow(table.Row{"Remaining hours", humanize.Commaf(s.Remaining)})
				tw.AppendRow(table.Row{"Utilization", fmt.Sprintf("%d%%", s.Utilization)})
				for _, status := range domain.ProjectStatuses {
					if n := s.StatusCounts[status]; n > 0 {
						tw.AppendRow(table.Row{string(status), n})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	return cmd
}

func ganttCmd() *cobra.Command {
	var f store.Filter
	var level string
	cmd := &cobra.Command{
		Use:   "gantt",
		Short: "Gantt rows at project or task level",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl := metrics.GanttLevel(level)
			if !lvl.Valid() {
				return fmt.Errorf("invalid --level %q (project|task)", level)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now, err := evaluationTime(e)
				if err != nil {
					return err
				}
				rows := e.Gantt(f, lvl, now)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Start", "End", "Progress", "Depends on"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Start, r.End, fmt.Sprintf("%d%%", r.Progress), strings.Join(r.Dependencies, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	cmd.Flags().StringVar(&level, "level", string(metrics.GanttProjects), "project or task")
	return cmd
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Collect timeline documents from the configured repositories into the seed artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Fetch(ctx, a.Fetcher(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("fetched %d/%d projects into %s\n", res.Fetched, len(a.Config.Fetch.Repos), res.Output)
				for _, s := range res.Skipped {
					fmt.Printf("  skipped %s: %s\n", s.Source, s.Reason)
				}
				if res.UsedSamples {
					fmt.Println("no projects fetched; sample data written instead")
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				var secret string
				if a.Config.Server.JWTSecretEnv != "" {
					secret = os.Getenv(a.Config.Server.JWTSecretEnv)
				}
				if secret == "" {
					a.Logger.Warn("no JWT secret configured; mutations are accepted without authentication")
				}
				m := server.NewMetrics(a.Store)
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Metrics:  m,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					server.NewWebhookDispatcher(a.Engine, a.Config.Webhooks, m, a.Logger).Run(gctx)
					return nil
				})
				if watch || a.Config.Seed.Watch {
					g.Go(func() error {
						return seed.Watch(gctx, a.SeedPath(), a.Logger, func() {
							if err := a.Engine.Reload(gctx, ""); err != nil {
								a.Logger.Warn("reload seeds", "error", err)
							}
						})
					})
				}
				fmt.Printf("Serving Timeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
					addr, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from timeline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from timeline.yml)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload built-in projects when the seed artifact changes")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event journal"}
	cmd.AddCommand(logTailCmd())
	cmd.AddCommand(logFetchesCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Journal(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Project", "Actor", "Payload"})
				for _, evt := range events {
					when := evt.TS
					if ts, err := time.Parse(time.RFC3339, evt.TS); err == nil {
						when = humanize.Time(ts)
					}
					tw.AppendRow(table.Row{evt.ID, when, evt.Type, evt.ProjectID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func logFetchesCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "fetches",
		Short: "Recent fetch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListFetchRuns(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(runs)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "number of runs")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default timeline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func tokenCmd() *cobra.Command {
	var actor string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API from the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := os.Getenv(cfg.Server.JWTSecretEnv)
			if secret == "" {
				return fmt.Errorf("%s is not set", cfg.Server.JWTSecretEnv)
			}
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, err := server.SignToken(secret, actor, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "token subject (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// evaluationTime is --now when given, otherwise the engine clock.
func evaluationTime(e engine.Engine) (time.Time, error) {
	raw := strings.TrimSpace(viper.GetString("now"))
	if raw == "" {
		return e.Clock(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q", raw)
	}
	return t, nil
}

func hoursPair(actual, estimated float64) string {
	return humanize.Commaf(actual) + " / " + humanize.Commaf(estimated) + " h"
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
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
