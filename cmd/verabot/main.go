package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cmmodulados/verabot/internal/api"
	"github.com/cmmodulados/verabot/internal/drive"
	"github.com/cmmodulados/verabot/internal/flow"
	"github.com/cmmodulados/verabot/internal/messaging"
	"github.com/cmmodulados/verabot/internal/store"
	"github.com/cmmodulados/verabot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for chatbot state data
	DefaultStateDir = "/var/lib/verabot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "verabot.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Build modules
	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	notifier, err := buildNotifier(flags)
	if err != nil {
		slog.Error("Failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	provisioner := buildProvisioner(ctx, flags)

	debouncer := flow.NewDebouncer(flow.WithWindow(config.DebounceWindow))
	defer debouncer.Stop()

	definition := flow.DefaultDefinition()
	engine, err := flow.NewEngine(st, notifier, definition,
		flow.WithDebouncer(debouncer),
		flow.WithProvisioner(provisioner),
	)
	if err != nil {
		slog.Error("Failed to initialize flow engine", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(engine, st, notifier, definition, buildAPIOptions(flags, config)...)

	slog.Info("Bootstrapping verabot with configured modules",
		"api_addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "",
		"allowed_contacts", len(config.AllowedContacts), "debounce_window", config.DebounceWindow)
	if err := server.Run(ctx); err != nil {
		slog.Error("verabot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("verabot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	APIAddr         string
	MessagesAPIURL  string
	MessagesAPIKey  string
	DriveClientID   string
	DriveSecret     string
	DriveRedirect   string
	DriveRefresh    string
	DriveParent     string
	AllowedContacts []int64
	DebounceWindow  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	apiAddr        *string
	messagesAPIURL *string
	messagesAPIKey *string
	driveClientID  *string
	driveSecret    *string
	driveRedirect  *string
	driveRefresh   *string
	driveParent    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("VERABOT_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
		MessagesAPIURL:  os.Getenv("MESSAGES_API_URL"),
		MessagesAPIKey:  os.Getenv("MESSAGES_API_TOKEN"),
		DriveClientID:   os.Getenv("GOOGLE_DRIVE_CLIENT_ID"),
		DriveSecret:     os.Getenv("GOOGLE_DRIVE_CLIENT_SECRET"),
		DriveRedirect:   os.Getenv("GOOGLE_DRIVE_REDIRECT_URI"),
		DriveRefresh:    os.Getenv("GOOGLE_DRIVE_REFRESH_TOKEN"),
		DriveParent:     os.Getenv("GOOGLE_DRIVE_PARENT_FOLDER_ID"),
		AllowedContacts: util.ParseInt64ListEnv("ALLOWED_CONTACT_IDS"),
		DebounceWindow:  util.ParseDurationEnv("DEBOUNCE_WINDOW", flow.DefaultDebounceWindow),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VERABOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VERABOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MESSAGES_API_URL_SET", config.MessagesAPIURL != "",
		"MESSAGES_API_TOKEN_SET", config.MessagesAPIKey != "",
		"GOOGLE_DRIVE_CONFIGURED", config.DriveClientID != "" && config.DriveRefresh != "",
		"ALLOWED_CONTACT_IDS", len(config.AllowedContacts),
		"DEBOUNCE_WINDOW", config.DebounceWindow)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for verabot data (overrides $VERABOT_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		messagesAPIURL: flag.String("messages-api-url", config.MessagesAPIURL, "ticket platform messages endpoint (overrides $MESSAGES_API_URL)"),
		messagesAPIKey: flag.String("messages-api-token", config.MessagesAPIKey, "ticket platform integration token (overrides $MESSAGES_API_TOKEN)"),
		driveClientID:  flag.String("drive-client-id", config.DriveClientID, "Google Drive OAuth client id (overrides $GOOGLE_DRIVE_CLIENT_ID)"),
		driveSecret:    flag.String("drive-client-secret", config.DriveSecret, "Google Drive OAuth client secret (overrides $GOOGLE_DRIVE_CLIENT_SECRET)"),
		driveRedirect:  flag.String("drive-redirect-uri", config.DriveRedirect, "Google Drive OAuth redirect URI (overrides $GOOGLE_DRIVE_REDIRECT_URI)"),
		driveRefresh:   flag.String("drive-refresh-token", config.DriveRefresh, "Google Drive OAuth refresh token (overrides $GOOGLE_DRIVE_REFRESH_TOKEN)"),
		driveParent:    flag.String("drive-parent-folder", config.DriveParent, "Google Drive parent folder id (overrides $GOOGLE_DRIVE_PARENT_FOLDER_ID)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"messagesAPIURL_set", *flags.messagesAPIURL != "",
		"driveConfigured", *flags.driveClientID != "" && *flags.driveRefresh != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypeSQLite {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects and initializes the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}

	switch store.DetectDSNType(dsn) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildNotifier selects the outbound delivery channel: the ticket
// platform API when configured, otherwise direct WhatsApp via Twilio.
func buildNotifier(flags Flags) (messaging.Notifier, error) {
	if *flags.messagesAPIURL != "" && *flags.messagesAPIKey != "" {
		slog.Debug("Configuring ticket API notifier")
		return messaging.NewTicketNotifier(
			messaging.WithBaseURL(*flags.messagesAPIURL),
			messaging.WithAuthorization(*flags.messagesAPIKey),
		)
	}
	slog.Debug("Ticket API not configured, falling back to Twilio notifier")
	return messaging.NewTwilioNotifier()
}

// buildProvisioner initializes the Drive folder provisioner, or a
// disabled stand-in when credentials are missing.
func buildProvisioner(ctx context.Context, flags Flags) flow.FolderProvisioner {
	if *flags.driveClientID == "" || *flags.driveSecret == "" || *flags.driveRefresh == "" {
		slog.Info("Google Drive credentials not configured, folder provisioning disabled")
		return drive.Disabled{}
	}

	svc, err := drive.NewService(ctx,
		drive.WithClientID(*flags.driveClientID),
		drive.WithClientSecret(*flags.driveSecret),
		drive.WithRedirectURI(*flags.driveRedirect),
		drive.WithRefreshToken(*flags.driveRefresh),
		drive.WithParentFolderID(*flags.driveParent),
	)
	if err != nil {
		slog.Error("Failed to initialize Google Drive service, folder provisioning disabled", "error", err)
		return drive.Disabled{}
	}
	return svc
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if len(config.AllowedContacts) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedContacts(config.AllowedContacts))
	}
	return apiOpts
}
