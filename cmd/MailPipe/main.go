package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/MailPipe/internal/agentclient"
	"github.com/BTreeMap/MailPipe/internal/api"
	"github.com/BTreeMap/MailPipe/internal/config"
	"github.com/BTreeMap/MailPipe/internal/contacts"
	"github.com/BTreeMap/MailPipe/internal/credentials"
	"github.com/BTreeMap/MailPipe/internal/genai"
	"github.com/BTreeMap/MailPipe/internal/gmail"
	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/store"
	"github.com/BTreeMap/MailPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MailPipe state data
	DefaultStateDir = "/var/lib/mailpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "mailpipe.db"
)

// LLM providers accepted by LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := loadEnvironmentConfig()
	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

// Config holds environment configuration. Every field can be overridden by
// the matching CLI flag.
type Config struct {
	StateDir    string
	DatabaseURL string
	ConfigPath  string

	LLMProvider string
	LLMModel    string
	OpenAIKey   string
	OpenAIURL   string
	GeminiKey   string
	DebugLLM    bool

	APIAddr  string
	AgentURL string

	ContactsSource string
	ContactsURL    string
	ContactsFile   string

	GoogleClientID     string
	GoogleClientSecret string
	MailSender         string
	UserToken          string

	LogLevel  string
	LogFormat string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:           os.Getenv("MAILPIPE_STATE_DIR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ConfigPath:         os.Getenv(configEnvPath),
		LLMProvider:        util.EnvOrDefault("LLM_PROVIDER", ProviderOpenAI),
		LLMModel:           os.Getenv("LLM_MODEL"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIURL:          os.Getenv("OPENAI_BASE_URL"),
		GeminiKey:          os.Getenv("GEMINI_API_KEY"),
		DebugLLM:           util.ParseBoolEnv("LLM_DEBUG", false),
		APIAddr:            util.EnvOrDefault("API_ADDR", api.DefaultAddr),
		AgentURL:           os.Getenv("AGENT_URL"),
		ContactsSource:     os.Getenv("CONTACTS_SOURCE"),
		ContactsURL:        os.Getenv("CONTACTS_URL"),
		ContactsFile:       os.Getenv("CONTACTS_FILE"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		MailSender:         os.Getenv("MAIL_SENDER"),
		UserToken:          os.Getenv("MAILPIPE_USER_TOKEN"),
		LogLevel:           util.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          util.EnvOrDefault("LOG_FORMAT", "text"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MAILPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"MAILPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LLM_PROVIDER", config.LLMProvider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"API_ADDR", config.APIAddr,
		"AGENT_URL", config.AgentURL,
		"CONTACTS_SOURCE", config.ContactsSource)

	return config
}

const configEnvPath = config.EnvConfigPath

// databaseDSN returns the configured DSN, or the SQLite file in the state
// directory when none is set. It is resolved after flag parsing so that
// --state-dir moves the default database with it.
func databaseDSN(cfg Config) string {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL
	}
	return filepath.Join(cfg.StateDir, DefaultDBFileName)
}

// usesStateDir reports whether the DSN is a file under the local filesystem,
// in which case the state directory must exist and be locked.
func usesStateDir(dsn string) bool {
	return dsn != "" && store.DetectDSNType(dsn) != "postgres"
}

// ensureDirectoriesExist creates the directory holding a file-based database
func ensureDirectoriesExist(dsn string) error {
	if !usesStateDir(dsn) {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
	slog.Debug("Creating state directory for file-based database", "state_dir", dir)
	return os.MkdirAll(dir, 0o755)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(dsn string) []store.Option {
	var storeOpts []store.Option
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// buildGenAIOptions constructs language-model options for the selected provider
func buildGenAIOptions(cfg Config, timeout time.Duration, metrics *instrumentation.Metrics) []genai.Option {
	var genaiOpts []genai.Option
	switch strings.ToLower(cfg.LLMProvider) {
	case ProviderGemini:
		if cfg.GeminiKey != "" {
			genaiOpts = append(genaiOpts, genai.WithAPIKey(cfg.GeminiKey))
		}
	default:
		if cfg.OpenAIKey != "" {
			genaiOpts = append(genaiOpts, genai.WithAPIKey(cfg.OpenAIKey))
		}
		if cfg.OpenAIURL != "" {
			genaiOpts = append(genaiOpts, genai.WithBaseURL(cfg.OpenAIURL))
		}
	}
	if cfg.LLMModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.LLMModel))
	}
	if timeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(timeout))
	}
	if cfg.DebugLLM {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, cfg.StateDir))
	}
	if metrics != nil {
		genaiOpts = append(genaiOpts, genai.WithMetrics(metrics))
	}
	return genaiOpts
}

// buildCredentialOptions constructs mailbox credential options
func buildCredentialOptions(cfg Config, timeout time.Duration, metrics *instrumentation.Metrics) []credentials.Option {
	var credOpts []credentials.Option
	if cfg.GoogleClientID != "" {
		credOpts = append(credOpts, credentials.WithOAuthClient(cfg.GoogleClientID, cfg.GoogleClientSecret))
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, expired mailbox tokens cannot be refreshed")
	}
	if timeout > 0 {
		credOpts = append(credOpts, credentials.WithTimeout(timeout))
	}
	if metrics != nil {
		credOpts = append(credOpts, credentials.WithMetrics(metrics))
	}
	return credOpts
}

// buildMailOptions constructs Gmail gateway options
func buildMailOptions(cfg Config, timeout time.Duration, metrics *instrumentation.Metrics) []gmail.Option {
	var mailOpts []gmail.Option
	if cfg.MailSender != "" {
		mailOpts = append(mailOpts, gmail.WithSender(cfg.MailSender))
	}
	if timeout > 0 {
		mailOpts = append(mailOpts, gmail.WithTimeout(timeout))
	}
	if metrics != nil {
		mailOpts = append(mailOpts, gmail.WithMetrics(metrics))
	}
	return mailOpts
}

// contactsKind picks the contacts source. An explicit CONTACTS_SOURCE wins;
// otherwise a configured URL or file selects its source and Google People is
// the fallback.
func contactsKind(cfg Config) string {
	switch {
	case cfg.ContactsSource != "":
		return strings.ToLower(cfg.ContactsSource)
	case cfg.ContactsURL != "":
		return contacts.KindHTTP
	case cfg.ContactsFile != "":
		return contacts.KindFile
	default:
		return contacts.KindGoogle
	}
}

// buildAgentClientOptions constructs options for a remote agent backend
func buildAgentClientOptions(timeouts config.TimeoutsConfig, metrics *instrumentation.Metrics) []agentclient.Option {
	var opts []agentclient.Option
	if timeouts.Run > 0 {
		opts = append(opts, agentclient.WithRunTimeout(timeouts.Run))
	}
	if timeouts.Health > 0 {
		opts = append(opts, agentclient.WithHealthTimeout(timeouts.Health))
	}
	if metrics != nil {
		opts = append(opts, agentclient.WithMetrics(metrics))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg Config, metrics *instrumentation.Metrics) []api.Option {
	var apiOpts []api.Option
	if cfg.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr))
	}
	if metrics != nil {
		apiOpts = append(apiOpts, api.WithMetrics(metrics))
	}
	return apiOpts
}
