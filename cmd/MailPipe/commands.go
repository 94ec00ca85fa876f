package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/api"
	"github.com/BTreeMap/MailPipe/internal/config"
	"github.com/BTreeMap/MailPipe/internal/contacts"
	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/flow"
	"github.com/BTreeMap/MailPipe/internal/genai"
	"github.com/BTreeMap/MailPipe/internal/gmail"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/lockfile"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/mcpserver"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/scheduler"
	"github.com/BTreeMap/MailPipe/internal/store"
)

// retentionJob names the stale thread sweep in the scheduler.
const retentionJob = "thread-retention"

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "mailpipe",
		Short: "Conversational email agent",
		Long: `MailPipe drafts and sends emails to your contacts, or summarizes your
inbox, through a short conversation.

It can run as:
  - An HTTP gateway with a local agent (serve)
  - An HTTP gateway in front of a remote agent backend (serve with --agent-url)
  - An agent backend (agent)
  - An MCP server for AI assistants (mcp)
  - A one-shot command line turn (turn)`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Setup(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
		},
	}
	root.SetVersionTemplate(`{{printf "mailpipe version %s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for MailPipe data (overrides $MAILPIPE_STATE_DIR)")
	pf.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	pf.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "agent tuning YAML file (overrides $MAILPIPE_CONFIG)")
	pf.StringVar(&cfg.LLMProvider, "llm-provider", cfg.LLMProvider, "language model provider: openai or gemini (overrides $LLM_PROVIDER)")
	pf.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "language model name (overrides $LLM_MODEL)")
	pf.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	pf.StringVar(&cfg.GeminiKey, "gemini-api-key", cfg.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	pf.StringVar(&cfg.ContactsSource, "contacts-source", cfg.ContactsSource, "contacts source: http, google or file (overrides $CONTACTS_SOURCE)")
	pf.StringVar(&cfg.ContactsURL, "contacts-url", cfg.ContactsURL, "contacts service base URL (overrides $CONTACTS_URL)")
	pf.StringVar(&cfg.ContactsFile, "contacts-file", cfg.ContactsFile, "contacts YAML file (overrides $CONTACTS_FILE)")
	pf.StringVar(&cfg.AgentURL, "agent-url", cfg.AgentURL, "remote agent backend URL (overrides $AGENT_URL)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")

	root.AddCommand(
		newServeCmd(cfg),
		newAgentCmd(cfg),
		newTurnCmd(cfg),
		newMCPCmd(cfg),
		newCredentialsCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Run the public HTTP gateway. Turns are processed by an in-process agent,
or forwarded to a remote agent backend when --agent-url is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, *cfg, "serve")
			if err != nil {
				return err
			}
			defer rt.close()

			opts := rt.apiOptions()
			var runner api.AgentRunner
			if cfg.AgentURL != "" {
				client, err := rt.remoteAgent()
				if err != nil {
					return err
				}
				slog.Info("Gateway forwarding turns to remote agent backend", "agent_url", cfg.AgentURL)
				runner = client
				opts = append(opts, api.WithHealthChecker(client))
			} else {
				orch, err := rt.orchestrator(ctx)
				if err != nil {
					return err
				}
				if err := rt.startRetention(); err != nil {
					return err
				}
				runner = orch
			}
			return api.NewServer(runner, rt.store, opts...).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	return cmd
}

func newAgentCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the agent backend",
		Long:  "Run the agent backend that a gateway started with --agent-url forwards turns to.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, *cfg, "agent")
			if err != nil {
				return err
			}
			defer rt.close()

			orch, err := rt.orchestrator(ctx)
			if err != nil {
				return err
			}
			if err := rt.startRetention(); err != nil {
				return err
			}
			opts := append(rt.apiOptions(), api.WithBackendRoutes())
			return api.NewServer(orch, rt.store, opts...).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "agent backend address (overrides $API_ADDR)")
	return cmd
}

func newTurnCmd(cfg *Config) *cobra.Command {
	var threadID, action, editedFile string
	cmd := &cobra.Command{
		Use:   "turn <message>",
		Short: "Run one agent turn and print the response",
		Example: `  mailpipe turn "tell my manager I'm taking Friday off"
  mailpipe turn --thread 3f0c... --action send "send"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, *cfg, "turn")
			if err != nil {
				return err
			}
			defer rt.close()

			runner, err := rt.runner(ctx)
			if err != nil {
				return err
			}
			req := models.TurnRequest{
				Message:   strings.Join(args, " "),
				ThreadID:  threadID,
				Action:    models.TurnAction(action),
				UserToken: cfg.UserToken,
			}
			if editedFile != "" {
				if req.EditedEmails, err = readEditedEmails(editedFile); err != nil {
					return err
				}
			}
			state, err := runner.ProcessTurn(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, models.ResponseFromState(state))
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id from a previous turn")
	cmd.Flags().StringVar(&action, "action", "", "explicit action: continue, send, cancel or edit")
	cmd.Flags().StringVar(&editedFile, "edited-emails", "", "JSON file with edited emails for --action edit or send")
	cmd.Flags().StringVar(&cfg.UserToken, "user-token", cfg.UserToken, "mailbox bearer token (overrides $MAILPIPE_USER_TOKEN)")
	return cmd
}

func newMCPCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, *cfg, "mcp")
			if err != nil {
				return err
			}
			defer rt.close()

			runner, err := rt.runner(ctx)
			if err != nil {
				return err
			}
			var health mcpserver.HealthChecker
			if client, ok := runner.(*agentclient.Client); ok {
				health = client
			}
			return mcpserver.ServeStdio(mcpserver.New(version, runner, health, cfg.UserToken))
		},
	}
	cmd.Flags().StringVar(&cfg.UserToken, "user-token", cfg.UserToken, "mailbox bearer token used for every turn (overrides $MAILPIPE_USER_TOKEN)")
	return cmd
}

func newCredentialsCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored mailbox credentials",
	}

	var tokenFile string
	add := &cobra.Command{
		Use:   "add <user-token>",
		Short: "Store an OAuth token for a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := readOAuthToken(tokenFile)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), *cfg, "credentials")
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.credentials().Register(cmd.Context(), args[0], tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s\n", credentials.UserKey(args[0]))
			return nil
		},
	}
	add.Flags().StringVar(&tokenFile, "token-file", "", "OAuth token JSON file")
	_ = add.MarkFlagRequired("token-file")

	remove := &cobra.Command{
		Use:   "remove <user-token>",
		Short: "Delete the stored credential for a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), *cfg, "credentials")
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.credentials().Forget(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailpipe version %s\n", version)
		},
	}
}

// runtime holds the process-wide collaborators shared by the subcommands.
type runtime struct {
	cfg       Config
	agentCfg  *config.Config
	telemetry *instrumentation.Provider
	store     store.Store
	lock      *lockfile.Lock
	sched     *scheduler.Scheduler
	creds     *credentials.StoreProvider
}

func newRuntime(ctx context.Context, cfg Config, command string) (*runtime, error) {
	agentCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}

	dsn := databaseDSN(cfg)
	if err := ensureDirectoriesExist(dsn); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	rt := &runtime{cfg: cfg, agentCfg: agentCfg}
	if usesStateDir(dsn) {
		if rt.lock, err = lockfile.Acquire(cfg.StateDir, command); err != nil {
			return nil, err
		}
	}

	if rt.telemetry, err = instrumentation.NewProvider(ctx, instrumentation.DefaultConfig(version)); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	if rt.store, err = store.New(buildStoreOptions(dsn)...); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	slog.Debug("runtime: initialized", "command", command, "state_dir", cfg.StateDir, "dsn_type", store.DetectDSNType(dsn))
	return rt, nil
}

func (rt *runtime) metrics() *instrumentation.Metrics { return rt.telemetry.Metrics() }

func (rt *runtime) apiOptions() []api.Option {
	opts := buildAPIOptions(rt.cfg, rt.metrics())
	if rt.telemetry.ServesPrometheus() {
		opts = append(opts, api.WithMetricsHandler(promhttp.Handler()))
	}
	return opts
}

func (rt *runtime) credentials() *credentials.StoreProvider {
	if rt.creds == nil {
		rt.creds = credentials.NewStoreProvider(rt.store, buildCredentialOptions(rt.cfg, rt.agentCfg.Timeouts.Gateway, rt.metrics())...)
	}
	return rt.creds
}

// runner returns the remote agent when one is configured, else a local one.
func (rt *runtime) runner(ctx context.Context) (api.AgentRunner, error) {
	if rt.cfg.AgentURL != "" {
		return rt.remoteAgent()
	}
	return rt.orchestrator(ctx)
}

func (rt *runtime) remoteAgent() (*agentclient.Client, error) {
	return agentclient.New(rt.cfg.AgentURL, buildAgentClientOptions(rt.agentCfg.Timeouts, rt.metrics())...)
}

// orchestrator wires the in-process agent and its gateways.
func (rt *runtime) orchestrator(ctx context.Context) (*flow.Orchestrator, error) {
	timeouts := rt.agentCfg.Timeouts
	llm, err := newLLM(ctx, rt.cfg, timeouts.LLM, rt.metrics())
	if err != nil {
		return nil, err
	}
	creds := rt.credentials()
	source, err := newContactSource(rt.cfg, creds, timeouts.Gateway, rt.metrics())
	if err != nil {
		return nil, err
	}
	mail := gmail.NewClient(creds, buildMailOptions(rt.cfg, timeouts.Gateway, rt.metrics())...)

	slog.Info("Agent wired", "llm_provider", llm.Provider(), "contacts_source", contactsKind(rt.cfg))
	return flow.NewOrchestrator(
		flow.NewStoreBasedStateManager(rt.store),
		llm, source, mail,
		flow.WithConfig(rt.agentCfg.Agent),
		flow.WithMetrics(rt.metrics()),
		flow.WithTracer(rt.telemetry.Tracer("mailpipe/flow")),
		flow.WithReceiptStore(rt.store),
	), nil
}

// startRetention schedules the stale thread sweep. A zero TTL disables it.
func (rt *runtime) startRetention() error {
	ret := rt.agentCfg.Retention
	if ret.TTL <= 0 {
		slog.Info("Thread retention sweep disabled")
		return nil
	}
	rt.sched = scheduler.NewScheduler(ret.JobTimeout)
	sweeper := flow.NewRetentionSweeper(rt.store, ret.TTL)
	if err := rt.sched.AddJob(retentionJob, ret.Schedule, sweeper.Sweep); err != nil {
		return fmt.Errorf("failed to schedule thread retention: %w", err)
	}
	slog.Info("Thread retention sweep scheduled", "schedule", ret.Schedule, "ttl", ret.TTL)
	return nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if rt.sched != nil {
		if err := rt.sched.Stop(ctx); err != nil {
			slog.Warn("runtime.close: scheduler stop failed", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("runtime.close: store close failed", "error", err)
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		slog.Warn("runtime.close: telemetry shutdown failed", "error", err)
	}
	if err := rt.lock.Release(); err != nil {
		slog.Warn("runtime.close: lock release failed", "error", err)
	}
}

// newLLM builds the language-model client for the configured provider.
func newLLM(ctx context.Context, cfg Config, timeout time.Duration, metrics *instrumentation.Metrics) (genai.ClientInterface, error) {
	opts := buildGenAIOptions(cfg, timeout, metrics)
	switch strings.ToLower(cfg.LLMProvider) {
	case ProviderGemini:
		return genai.NewGeminiClient(ctx, opts...)
	case ProviderOpenAI, "":
		return genai.NewClient(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", models.ErrInput, cfg.LLMProvider)
	}
}

// newContactSource builds the contacts source selected by contactsKind.
func newContactSource(cfg Config, creds credentials.Provider, timeout time.Duration, metrics *instrumentation.Metrics) (contacts.Source, error) {
	switch kind := contactsKind(cfg); kind {
	case contacts.KindHTTP:
		if cfg.ContactsURL == "" {
			return nil, fmt.Errorf("%w: CONTACTS_URL is required for the http contacts source", models.ErrInput)
		}
		return contacts.NewHTTPSource(cfg.ContactsURL, timeout, metrics), nil
	case contacts.KindFile:
		if cfg.ContactsFile == "" {
			return nil, fmt.Errorf("%w: CONTACTS_FILE is required for the file contacts source", models.ErrInput)
		}
		return contacts.NewFileSource(cfg.ContactsFile), nil
	case contacts.KindGoogle:
		return contacts.NewPeopleSource(creds, "", timeout, metrics), nil
	default:
		return nil, fmt.Errorf("%w: unknown contacts source %q", models.ErrInput, kind)
	}
}

func readEditedEmails(path string) ([]models.ComposedEmail, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edited emails: %w", err)
	}
	var emails []models.ComposedEmail
	if err := json.Unmarshal(data, &emails); err != nil {
		return nil, fmt.Errorf("%w: edited emails file is not a JSON array of emails: %v", models.ErrInput, err)
	}
	return emails, nil
}

func readOAuthToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: token file is not an OAuth token: %v", models.ErrInput, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds neither an access token nor a refresh token")
	}
	return &tok, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
