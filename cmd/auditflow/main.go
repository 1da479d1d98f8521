package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auditflow/internal/agent"
	"auditflow/internal/aigen"
	"auditflow/internal/clickup"
	"auditflow/internal/config"
	"auditflow/internal/db"
	"auditflow/internal/domain"
	"auditflow/internal/events"
	"auditflow/internal/logging"
	"auditflow/internal/migrate"
	"auditflow/internal/orchestrator"
	"auditflow/internal/repo"
	"auditflow/internal/server"
	"auditflow/internal/signature"
	"auditflow/internal/webhook"
)

var rootCmd = &cobra.Command{
	Use:   "auditflow",
	Short: "Auditflow agent CLI",
	Long: `Auditflow runs an autonomous agent for forensic audit and consultancy
requests: it classifies incoming requests, decides and validates actions,
creates ClickUp tasks, orchestrates alpha/omega project phases, generates
reports with Gemini, and notifies webhook channels.

'auditflow serve' starts the HTTP API. 'auditflow process' runs the
pipeline once locally. Project, status, learning and mode commands talk
to a running server over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		logging.Init(viper.GetBool("debug"))
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("AUDITFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:3000", "base URL of a running auditflow server")
	rootCmd.PersistentFlags().String("api-key", "", "API key for server commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(learningCmd())
	rootCmd.AddCommand(modeCmd())
	rootCmd.AddCommand(thresholdCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
}

// stack bundles everything serve and process need wired together.
type stack struct {
	cfg     *config.Config
	conn    *sql.DB
	repo    repo.Repo
	events  events.Writer
	codec   *signature.Codec
	hooks   *webhook.Sender
	tracker *clickup.Client
	gen     *aigen.Generator
	agent   *agent.Agent
	orch    *orchestrator.Orchestrator
}

func (s *stack) Close() { s.conn.Close() }

func buildStack(ctx context.Context) (*stack, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	codec := signature.New(cfg.Webhooks.Secret)
	if !codec.Enabled() {
		log.Warn().Msg("no webhook secret configured, inbound signatures will not be verified")
	}
	hooks := webhook.New(cfg.Webhooks.Endpoints, codec, "auditflow")
	tracker := clickup.New(cfg.ClickUp.APIKey, cfg.ClickUp.ListID)
	if !tracker.Configured() {
		log.Warn().Msg("clickup not configured, task actions will fail")
	}
	r := repo.Repo{DB: conn}
	orch := orchestrator.New(tracker, hooks)
	exec := &agent.Executor{
		Tracker: tracker,
		Hooks:   hooks,
		Orch:    orch,
		Reports: r,
	}
	s := &stack{
		cfg:     cfg,
		conn:    conn,
		repo:    r,
		events:  events.Writer{DB: conn},
		codec:   codec,
		hooks:   hooks,
		tracker: tracker,
		orch:    orch,
	}
	var analyzer agent.Analyzer
	gen, err := aigen.New(ctx, cfg.AI.APIKey, cfg.AI.AnalysisModel, cfg.AI.ContentModel)
	switch {
	case errors.Is(err, aigen.ErrNotConfigured):
		log.Warn().Msg("gemini not configured, using heuristic analysis only")
	case err != nil:
		conn.Close()
		return nil, err
	default:
		s.gen = gen
		exec.Gen = gen
		analyzer = gen
		orch.SetNarrator(gen)
	}
	s.agent = agent.New(analyzer, exec, cfg.Agent.Mode, cfg.Agent.ConfidenceThreshold)
	return s, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			var gen agent.ContentGenerator
			if s.gen != nil {
				gen = s.gen
			}
			handler, err := server.New(server.Config{
				Agent:    s.agent,
				Orch:     s.orch,
				Gen:      gen,
				Repo:     s.repo,
				Events:   s.events,
				Hooks:    s.hooks,
				Codec:    s.codec,
				Tracker:  s.tracker,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        s.cfg.JWTSecret,
					AllowActorHeader: s.cfg.Debug,
				},
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info().Str("addr", addr).Str("base_path", basePath).
				Str("mode", s.agent.Status().Mode).Msg("serving auditflow API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (defaults to config server host:port)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func processCmd() *cobra.Command {
	var file, requestID string
	cmd := &cobra.Command{
		Use:   "process [request text]",
		Short: "Run the agent pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(strings.Join(args, " "))
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				input = strings.TrimSpace(string(data))
			}
			if input == "" {
				return fmt.Errorf("request text or --file required")
			}
			s, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			result, err := s.agent.Process(cmd.Context(), input, requestID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(result)
			}
			fmt.Printf("Request %s (%s/%s, confidence %.2f, %s)\n",
				result.RequestID, result.Analysis.Type, result.Analysis.Priority,
				result.Analysis.Confidence, result.Analysis.Source)
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Action", "Status", "Validation"})
			tw.AppendRows(resultRows(result))
			tw.Render()
			fmt.Printf("Success rate: %.2f\n", result.SuccessRate)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read request text from file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id (generated if empty)")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects on a running server",
	}
	prj.AddCommand(projectStartCmd())
	prj.AddCommand(projectFinishCmd())
	prj.AddCommand(projectFailCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectMetricsCmd())
	prj.AddCommand(projectTemplatesCmd())
	return prj
}

func projectStartCmd() *cobra.Command {
	var name, client, kind string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Project
			err := apiRequest(http.MethodPost, "/projects/start", map[string]any{
				"name":   name,
				"client": client,
				"type":   kind,
			}, &p)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&kind, "type", "", "template (audit_forensic, compliance, security, general)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectFinishCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "finish <id-or-name>",
		Short: "Finish a project (omega phase)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Project
			err := apiRequest(http.MethodPost, "/projects/finish", map[string]any{
				"project": args[0],
				"force":   force,
			}, &p)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "finish even if not active")
	return cmd
}

func projectFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a project failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Project
			err := apiRequest(http.MethodPost, "/projects/"+args[0]+"/fail", map[string]any{
				"reason": reason,
			}, &p)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func projectListCmd() *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out server.ProjectListResponse
			path := "/projects"
			if archived {
				path += "?archived=true"
			}
			if err := apiRequest(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Client", "Type", "Status", "Phase"})
			for _, p := range out.Projects {
				tw.AppendRow(table.Row{p.ID, p.Name, p.Client, p.Type, p.Status, p.Phase})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Project
			if err := apiRequest(http.MethodGet, "/projects/"+args[0], nil, &p); err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	return cmd
}

func projectMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show project metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := apiRequest(http.MethodGet, "/projects/metrics", nil, &out); err != nil {
				return err
			}
			return printJSONOrTable(out)
		},
	}
	return cmd
}

func projectTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List project phase templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSONOrTable(orchestrator.Templates())
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Inspect stored reports",
	}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				reports, err := r.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Client", "Status", "Created"})
				for _, rep := range reports {
					tw.AppendRow(table.Row{rep.ID, rep.Type, rep.ClientName, rep.Status, rep.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func reportShowCmd() *cobra.Command {
	var contentOnly bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep, err := r.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				if contentOnly {
					fmt.Println(rep.Content)
					return nil
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().BoolVar(&contentOnly, "content", false, "print report content only")
	return cmd
}

func webhookCmd() *cobra.Command {
	wh := &cobra.Command{
		Use:   "webhook",
		Short: "Outbound webhook channels",
	}
	wh.AddCommand(webhookTestCmd())
	wh.AddCommand(webhookSendCmd())
	return wh
}

func webhookTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Ping every configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSender(func(s *webhook.Sender) error {
				results := s.Test(cmd.Context())
				if len(results) == 0 {
					fmt.Println("no webhook channels configured")
					return nil
				}
				return printJSONOrTable(results)
			})
		},
	}
	return cmd
}

func webhookSendCmd() *cobra.Command {
	var channel, event, dataJSON, priority string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one signed webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{}
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("parse --data-json: %w", err)
				}
			}
			return withSender(func(s *webhook.Sender) error {
				if err := s.Send(cmd.Context(), channel, event, data, priority); err != nil {
					return err
				}
				fmt.Printf("delivered %s to %s\n", event, channel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel name")
	cmd.Flags().StringVar(&event, "event", "", "event name")
	cmd.Flags().StringVar(&dataJSON, "data-json", "", "payload JSON")
	cmd.Flags().StringVar(&priority, "priority", domain.PriorityMedium, "priority")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := apiRequest(http.MethodGet, "/status", nil, &out); err != nil {
				return err
			}
			return printJSONOrTable(out)
		},
	}
	return cmd
}

func learningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Show learned patterns and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out agent.Learning
			if err := apiRequest(http.MethodGet, "/agent/learning", nil, &out); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Pattern", "Count", "Avg success"})
			for key, p := range out.Patterns {
				tw.AppendRow(table.Row{key, p.Count, fmt.Sprintf("%.2f", p.AvgSuccess)})
			}
			tw.Render()
			fmt.Printf("History entries: %d\n", len(out.History))
			return nil
		},
	}
	return cmd
}

func modeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode [autonomous|supervised|manual]",
		Short: "Show or change agent mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st agent.Status
			if len(args) == 0 {
				if err := apiRequest(http.MethodGet, "/agent/status", nil, &st); err != nil {
					return err
				}
				return printJSONOrTable(st)
			}
			err := apiRequest(http.MethodPut, "/agent/mode", map[string]any{"mode": args[0]}, &st)
			if err != nil {
				return err
			}
			return printJSONOrTable(st)
		},
	}
	return cmd
}

func thresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold <value>",
		Short: "Change the confidence threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v float64
			if _, err := fmt.Sscanf(args[0], "%f", &v); err != nil {
				return fmt.Errorf("threshold must be a number: %w", err)
			}
			var st agent.Status
			err := apiRequest(http.MethodPut, "/agent/threshold", map[string]any{"confidence_threshold": v}, &st)
			if err != nil {
				return err
			}
			return printJSONOrTable(st)
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := uuid.NewString()
			key := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: actor,
				Name:    name,
				KeyHash: repo.HashAPIKey(raw),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "api_key": raw})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default auditflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), "auditflow.yml")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.AI.APIKey = redact(cfg.AI.APIKey)
			redacted.ClickUp.APIKey = redact(cfg.ClickUp.APIKey)
			redacted.Webhooks.Secret = redact(cfg.Webhooks.Secret)
			redacted.JWTSecret = redact(cfg.JWTSecret)
			return printJSONOrTable(redacted)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evts, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Entity", "Actor", "At"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID, e.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withSender(fn func(*webhook.Sender) error) error {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	codec := signature.New(cfg.Webhooks.Secret)
	return fn(webhook.New(cfg.Webhooks.Endpoints, codec, "auditflow"))
}

// apiRequest calls a running server, authenticating with --api-key when
// set, otherwise with the bare actor header (accepted in debug mode).
func apiRequest(method, path string, body any, out any) error {
	base := strings.TrimRight(viper.GetString("addr"), "/")
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+"/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := viper.GetString("api-key"); key != "" {
		req.Header.Set("X-Api-Key", key)
	} else {
		req.Header.Set("X-Actor-Id", viper.GetString("actor-id"))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("server returned %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
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

func resultRows(result *agent.ProcessResult) []table.Row {
	rows := make([]table.Row, 0, len(result.Results))
	for i, r := range result.Results {
		validation := ""
		if i < len(result.Actions) {
			validation = string(result.Actions[i].ValidationMethod)
		}
		rows = append(rows, table.Row{r.Action, r.Status, validation})
	}
	return rows
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
